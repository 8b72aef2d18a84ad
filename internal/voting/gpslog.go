package voting

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// ParseGPSFix decodes a GPS payload body (ASCII "lat[9] lon[10] elev[7]",
// fixed-width per spec.md §6, tolerant of surrounding whitespace) into a
// position and elevation in meters.
func ParseGPSFix(body []byte) (s2.LatLng, float64, error) {
	s := strings.TrimSpace(string(body))
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return s2.LatLng{}, 0, fmt.Errorf("voting: malformed GPS payload %q", s)
	}
	lat, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return s2.LatLng{}, 0, fmt.Errorf("voting: parsing GPS latitude %q: %w", fields[0], err)
	}
	lon, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return s2.LatLng{}, 0, fmt.Errorf("voting: parsing GPS longitude %q: %w", fields[1], err)
	}
	elev, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return s2.LatLng{}, 0, fmt.Errorf("voting: parsing GPS elevation %q: %w", fields[2], err)
	}
	return s2.LatLngFromDegrees(lat, lon), elev, nil
}

// WriteGPSLine atomically writes one "UNIX_TS lat lon elev M" line to
// dir/gpsID.gps: write to a temp file in the same directory, fsync, then
// rename over the target, so a concurrent reader never observes a partial
// line (spec.md §4.10 point 3, grounded on the original driver's
// voter_write_gps_position).
func WriteGPSLine(dir, gpsID string, ts time.Time, fix s2.LatLng, elevM float64) error {
	target := filepath.Join(dir, gpsID+".gps")
	line := fmt.Sprintf("%d %.6f %.6f %.2f M\n", ts.Unix(), fix.Lat.Degrees(), fix.Lng.Degrees(), elevM)

	tmp, err := os.CreateTemp(dir, gpsID+".gps.tmp-*")
	if err != nil {
		return fmt.Errorf("voting: creating GPS work file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.WriteString(line); err != nil {
		tmp.Close()
		return fmt.Errorf("voting: writing GPS work file %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("voting: syncing GPS work file %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("voting: closing GPS work file %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("voting: renaming GPS work file to %s: %w", target, err)
	}
	return nil
}
