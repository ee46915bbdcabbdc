package preflight

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"animeindex/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll checks the directories and the credentials needed by kinds. Nil or
// empty kinds means every kind the configured lanes claim.
func RunAll(cfg *config.Config, kinds []string) []Result {
	if cfg == nil {
		return nil
	}
	if len(kinds) == 0 {
		for _, lane := range cfg.Workflow.Lanes {
			kinds = append(kinds, lane.Kinds...)
		}
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	results = append(results, CheckCredentials(cfg, kinds)...)
	return results
}

// Err joins the failed results into one error, or returns nil.
func Err(results []Result) error {
	var errs []error
	for _, r := range results {
		if !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	return errors.Join(errs...)
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCredentials reports one result per source the given task kinds call.
func CheckCredentials(cfg *config.Config, kinds []string) []Result {
	sources := LaneSources(cfg, kinds)
	results := make([]Result, 0, len(sources))
	for _, source := range sources {
		if err := cfg.RequireSource(source); err != nil {
			results = append(results, Result{Name: source, Detail: err.Error()})
			continue
		}
		results = append(results, Result{Name: source, Passed: true, Detail: "credentials ok"})
	}
	return results
}

// LaneSources lists, in first-use order, the sources the given task kinds
// call. "llm" stands for the scorer.
func LaneSources(cfg *config.Config, kinds []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(source string) {
		if source == "" {
			return
		}
		if _, ok := seen[source]; ok {
			return
		}
		seen[source] = struct{}{}
		out = append(out, source)
	}
	for _, kind := range kinds {
		switch kind {
		case config.KindResolveID:
			for _, source := range cfg.Scan.Sources {
				add(source)
			}
		case config.KindFetchFacts:
			add(cfg.Scan.FactsSource)
		case config.KindCheckAvailability:
			add(cfg.Scan.AvailabilitySource)
		case config.KindGenerateScore:
			add("llm")
		}
	}
	return out
}
