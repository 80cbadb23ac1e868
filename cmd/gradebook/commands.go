package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"

	"github.com/pavelanni/gradebook/internal/grading"
	appI18n "github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/report"
	"github.com/pavelanni/gradebook/internal/results"
	"github.com/pavelanni/gradebook/internal/sheet"
	"github.com/pavelanni/gradebook/internal/store"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import result sheets (JSON arrays or .xlsx workbooks) and rerank",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd)
	cmd.Flags().Bool("force", false, "Import files even if unchanged since the last import")
	return cmd
}

func pullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch a class and term from the result-data API",
		RunE:  runPull,
	}
	commonFlags(cmd)
	upstreamFlags(cmd)
	classFlags(cmd)
	return cmd
}

func rankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Recompute positions and the class summary",
		RunE:  runRank,
	}
	commonFlags(cmd)
	classFlags(cmd)
	return cmd
}

func publishCmd(publish bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Rerank and publish the results of a class and term",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPublish(cmd, publish)
		},
	}
	if !publish {
		cmd.Use, cmd.Short = "unpublish", "Hide the results of a class and term again"
	}
	commonFlags(cmd)
	classFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export ranked results as JSON or an XLSX broadsheet",
		RunE:  runExport,
	}
	commonFlags(cmd)
	classFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	cmd.Flags().String("format", "", "Output format (json, xlsx; default from the output extension)")
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render report cards as PDF",
		RunE:  runReport,
	}
	commonFlags(cmd)
	upstreamFlags(cmd)
	classFlags(cmd)
	f := cmd.Flags()
	f.String("student", "", "Student ID (empty renders every student of the class)")
	f.StringP("lang", "l", "en", "Report language (en, fr)")
	f.String("layout", "standard", "Report layout (standard, terminal)")
	f.String("strategy", "rows", "Pagination strategy (rows, slice)")
	f.StringP("output", "o", ".", "Output directory")
	return cmd
}

func scaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Check and load grade scales",
	}

	check := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a grade scale file and list uncovered score intervals",
		Args:  cobra.ExactArgs(1),
		RunE:  runScaleCheck,
	}
	check.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	check.Flags().String("log-format", "text", "Log format (text, json)")

	add := &cobra.Command{
		Use:   "add FILE",
		Short: "Store a grade scale file for a school",
		Args:  cobra.ExactArgs(1),
		RunE:  runScaleAdd,
	}
	commonFlags(add)
	add.Flags().Bool("activate", false, "Make the new scale the school's active scale")

	cmd.AddCommand(check, add)
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	return importFiles(e.db, e.results, args, e.v.GetBool("force"))
}

// importFiles imports result sheets, skipping files whose fingerprint matches
// the last import.
func importFiles(db *store.Store, svc *results.Service, paths []string, force bool) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := fingerprint(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash && !force {
			slog.Info("result sheet unchanged, skipping", "path", path)
			continue
		}

		rows, err := parseSheet(path, data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		n, err := svc.Import(rows)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported results", "path", path, "count", n)
	}
	return nil
}

// parseSheet decodes a result sheet by file extension.
func parseSheet(path string, data []byte) ([]model.ResultImport, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return sheet.ReadResults(bytes.NewReader(data))
	}
	var rows []model.ResultImport
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func fingerprint(data []byte) string {
	h := blake2b.Sum256(data)
	return hex.EncodeToString(h[:])
}

func runPull(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	if e.api == nil {
		return errors.New("pull needs --api-url")
	}

	classID, termID := e.v.GetString("class"), e.v.GetString("term")
	stats, err := e.results.Pull(cmd.Context(), e.api, classID, termID)
	if err != nil {
		return fmt.Errorf("pull %s/%s: %w", classID, termID, err)
	}
	slog.Info("pulled class", "class_id", classID, "term_id", termID,
		"students", stats.Students, "results", stats.Results, "ranked", stats.Summary.RankedStudents)
	return writeJSON(cmd.OutOrStdout(), stats)
}

func runRank(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sum, err := e.results.Rank(e.v.GetString("class"), e.v.GetString("term"))
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), sum)
}

func runPublish(cmd *cobra.Command, publish bool) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	classID, termID := e.v.GetString("class"), e.v.GetString("term")
	var n int64
	if publish {
		n, err = e.results.Publish(classID, termID)
	} else {
		n, err = e.results.Unpublish(classID, termID)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d results changed\n", n)
	return err
}

func runExport(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	export, err := e.db.ExportClass(e.v.GetString("class"), e.v.GetString("term"))
	if err != nil {
		return fmt.Errorf("export class: %w", err)
	}

	outPath := e.v.GetString("output")
	format := strings.ToLower(e.v.GetString("format"))
	if format == "" {
		format = "json"
		if strings.EqualFold(filepath.Ext(outPath), ".xlsx") {
			format = "xlsx"
		}
	}
	if format != "json" && format != "xlsx" {
		return fmt.Errorf("unknown export format %q (want json or xlsx)", format)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if format == "xlsx" {
		return sheet.WriteBroadsheet(w, export)
	}
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	v := e.v

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	layout, err := report.LayoutByName(v.GetString("layout"))
	if err != nil {
		return err
	}
	strategy, err := report.ParseStrategy(v.GetString("strategy"))
	if err != nil {
		return err
	}

	classID, termID := v.GetString("class"), v.GetString("term")
	students := []string{v.GetString("student")}
	if students[0] == "" {
		all, err := e.db.ListResults(classID, termID)
		if err != nil {
			return fmt.Errorf("list results: %w", err)
		}
		students = students[:0]
		for _, r := range all {
			students = append(students, r.StudentID)
		}
	}
	if len(students) == 0 {
		return fmt.Errorf("no results for class %s term %s", classID, termID)
	}

	ctx := appI18n.WithLang(appI18n.WithLocalizer(cmd.Context(), appI18n.NewLocalizer(lang)), lang)
	outDir := v.GetString("output")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	written := make(map[string]bool, len(students))
	for _, studentID := range students {
		doc, err := e.results.Document(ctx, classID, termID, studentID)
		if err != nil {
			return fmt.Errorf("report for %s: %w", studentID, err)
		}
		name := report.Filename(doc, layout)
		if written[name] {
			// Students without cached names share a filename.
			name = strings.TrimSuffix(name, ".pdf") + "_" + studentID + ".pdf"
		}
		written[name] = true
		path := filepath.Join(outDir, name)
		pages, err := writeReport(ctx, path, doc, report.Options{Layout: layout, Strategy: strategy})
		if err != nil {
			return fmt.Errorf("report for %s: %w", studentID, err)
		}
		slog.Info("wrote report", "student_id", studentID, "path", path, "pages", pages)
	}
	return nil
}

func writeReport(ctx context.Context, path string, doc report.Document, opts report.Options) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	pages, err := report.RenderPDF(ctx, f, doc, opts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return pages, err
}

// scaleFile is the on-disk form of a grade scale.
type scaleFile struct {
	Name   string             `json:"name"`
	Ranges []model.GradeRange `json:"grade_ranges"`
}

func readScale(path string) (scaleFile, error) {
	var sf scaleFile
	data, err := os.ReadFile(path)
	if err != nil {
		return sf, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, fmt.Errorf("parse %s: %w", path, err)
	}
	return sf, nil
}

func runScaleCheck(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	sf, err := readScale(args[0])
	if err != nil {
		return err
	}
	if err := grading.ValidateScale(sf.Name, sf.Ranges); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	gaps := grading.Gaps(sf.Ranges)
	if len(gaps) == 0 {
		_, err = fmt.Fprintf(out, "%s: %d ranges, covers 0-100\n", sf.Name, len(sf.Ranges))
		return err
	}
	fmt.Fprintf(out, "%s: %d ranges, uncovered:\n", sf.Name, len(sf.Ranges))
	for _, g := range gaps {
		fmt.Fprintf(out, "  %g-%g\n", g.From, g.To)
	}
	return nil
}

func runScaleAdd(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	sf, err := readScale(args[0])
	if err != nil {
		return err
	}
	sc, err := e.results.CreateScale(model.GradeScale{SchoolID: e.schoolID, Name: sf.Name, Ranges: sf.Ranges}, e.v.GetBool("activate"))
	if err != nil {
		return err
	}
	slog.Info("stored grade scale", "id", sc.ID, "school_id", sc.SchoolID, "active", sc.IsActive)
	_, err = fmt.Fprintln(cmd.OutOrStdout(), sc.ID)
	return err
}
