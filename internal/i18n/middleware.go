package i18n

import "net/http"

// Middleware injects a localizer into every request context. The language
// comes from the Accept-Language header when a locale matches it, otherwise
// from lang.
func Middleware(lang string) func(http.Handler) http.Handler {
	def := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc, chosen := def, lang
			if al := r.Header.Get("Accept-Language"); al != "" {
				if m := Match(al, lang); m != lang {
					loc, chosen = NewLocalizer(m, lang), m
				}
			}
			ctx := WithLang(WithLocalizer(r.Context(), loc), chosen)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
