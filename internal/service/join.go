package service

import (
	"fmt"
	"strings"

	"relay-weather/internal/eligibility"
	"relay-weather/internal/onionoo"
)

// Join zips the three documents of a run into per-relay records. The lists
// must have the same length, and wherever the history documents carry a
// fingerprint it must match the detail at the same index.
func Join(details []onionoo.RelayDetail, uptime []onionoo.RelayUptime, bandwidth []onionoo.RelayBandwidth) ([]onionoo.RelayRecord, error) {
	if len(details) != len(uptime) || len(details) != len(bandwidth) {
		return nil, &eligibility.DataError{
			Reason: fmt.Sprintf("document lengths differ: details=%d uptime=%d bandwidth=%d", len(details), len(uptime), len(bandwidth)),
			Err:    eligibility.ErrInconsistentData,
		}
	}

	records := make([]onionoo.RelayRecord, len(details))
	for i, detail := range details {
		if fp := uptime[i].Fingerprint; fp != "" && !strings.EqualFold(fp, detail.Fingerprint) {
			return nil, misaligned(i, "uptime", detail.Fingerprint, fp)
		}
		if fp := bandwidth[i].Fingerprint; fp != "" && !strings.EqualFold(fp, detail.Fingerprint) {
			return nil, misaligned(i, "bandwidth", detail.Fingerprint, fp)
		}
		records[i] = onionoo.RelayRecord{
			Detail:    detail,
			Uptime:    uptime[i].Uptime,
			Bandwidth: bandwidth[i].WriteHistory,
		}
	}
	return records, nil
}

func misaligned(index int, doc, want, got string) error {
	return &eligibility.DataError{
		Reason: fmt.Sprintf("%s document misaligned at index %d: want %s, got %s", doc, index, want, got),
		Err:    eligibility.ErrInconsistentData,
	}
}
