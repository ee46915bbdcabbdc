// Package tmdb provides the TMDB source provider.
//
// It searches TV and movie records, fetches fact sheets, and maps the
// watch/providers endpoint onto availability offers for a region. External
// ids carry the media type ("tv:1429", "movie:372058") because TMDB numbers
// the two catalogs independently. Every request goes through the client's
// own ratelimit.Caller.
package tmdb
