// Package artifact renders the three outputs of a job: the filled workbook,
// the transform log and the summary.
package artifact

import (
	"fmt"
	"strings"
)

// Kind names an artifact in download URLs
type Kind string

const (
	KindIdeal   Kind = "ideal"
	KindLog     Kind = "log"
	KindSummary Kind = "summary"
)

// Kinds lists every artifact in publication order
func Kinds() []Kind {
	return []Kind{KindIdeal, KindLog, KindSummary}
}

// ParseKind accepts a kind name or its file name
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds() {
		if s == string(k) || s == k.FileName() {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown artifact kind %q (want ideal, log or summary)", s)
}

// FileName is the artifact's name inside the artifacts directory
func (k Kind) FileName() string {
	switch k {
	case KindIdeal:
		return "ideal_filled.xlsx"
	case KindLog:
		return "transform_log.yaml"
	case KindSummary:
		return "summary.json"
	}
	return ""
}

// ContentType is the media type served on download
func (k Kind) ContentType() string {
	switch k {
	case KindIdeal:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case KindLog:
		return "text/plain; charset=utf-8"
	case KindSummary:
		return "application/json"
	}
	return "application/octet-stream"
}
