// Package anilist is the AniList GraphQL source provider: title search and
// fact sheets keyed by AniList media id.
package anilist
