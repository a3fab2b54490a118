/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// readSeedFile reads documents keyed by "collection/id", each holding a
// field map in the store's value encoding:
//
//	{"users/alice": {"points": {"integerValue": "120"}}}
func readSeedFile(cfg *Config, path string) (map[string]map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	logf(cfg, "STORE: Read seed file %s (%s)", path, humanReadableSize(int64(len(data))))

	return docs, nil
}
