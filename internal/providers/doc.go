// Package providers defines the Source Provider capabilities the task
// handlers call and a Registry that resolves them by source name.
//
// Concrete clients live in subpackages (anilist, tmdb, jikan, llm). Each owns
// its own ratelimit.Caller so unrelated sources never share a throttle.
package providers
