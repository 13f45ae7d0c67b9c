package ocr

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/corestructure/remote-ocr/internal/ocr/match"
)

var blockMarkerRe = regexp.MustCompile(`(?i)BLOCK:\s*([A-Z0-9]{4}[-\s]*[A-Z0-9]{4}[-\s]*[A-Z0-9]{3})`)

// ParseBatchResponse splits a strip response into per-block texts keyed by
// the requested block ids. Marker ids mangled by the model are resolved
// through the identity matcher. When the response carries no markers at all,
// the whole text is assigned to the first requested block and the rest are
// left empty.
func ParseBatchResponse(blockIDs []string, responseText string) map[string]string {
	results := make(map[string]string, len(blockIDs))
	for _, id := range blockIDs {
		results[id] = ""
	}
	if responseText == "" {
		return results
	}

	log := zap.S().Named("ocr")
	markers := blockMarkerRe.FindAllStringSubmatchIndex(responseText, -1)

	if len(markers) == 0 {
		log.Warnf("no BLOCK markers in response, assigning whole text to %s", blockIDs[0])
		results[blockIDs[0]] = strings.TrimSpace(responseText)
		return results
	}

	matcher := match.NewMatcher(blockIDs)
	for i, m := range markers {
		observed := responseText[m[2]:m[3]]
		start := m[1]
		end := len(responseText)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		text := strings.TrimSpace(responseText[start:end])

		id, score, ok := matcher.Match(observed)
		if !ok {
			log.Warnf("marker %q matched no requested block", observed)
			continue
		}
		if score < 100 {
			log.Debugf("marker %q resolved to %s with score %.0f", observed, id, score)
		}
		results[id] = text
	}

	return results
}

// StripSingleBlockMarkers removes a stray leading marker from a single-block
// response.
func StripSingleBlockMarkers(responseText string) string {
	return strings.TrimSpace(blockMarkerRe.ReplaceAllString(responseText, ""))
}

