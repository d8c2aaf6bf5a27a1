package main

import (
	"os"

	"lodregulator/internal/history"
	"lodregulator/internal/regulator"
)

// newWriters sets up decision writers based on flags and env vars. It
// returns the writer and a cleanup function to close any resources.
func newWriters(printOnly bool, logFile string) (regulator.DecisionWriter, func(), error) {
	cleanup := func() {}

	base, err := baseWriter(printOnly)
	if err != nil {
		return nil, nil, err
	}
	if logFile == "" {
		return base, cleanup, nil
	}

	fw, err := history.NewFileWriter(logFile)
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() { fw.Close() }
	return history.NewMultiWriter(base, fw), cleanup, nil
}

// baseWriter chooses stdout or GreptimeDB from the environment.
func baseWriter(printOnly bool) (regulator.DecisionWriter, error) {
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if printOnly || endpoint == "" {
		return history.NewStdoutWriter(), nil
	}
	return history.NewGreptimeDBWriter(endpoint, "public", os.Getenv("GREPTIMEDB_TABLE"))
}
