package traffic

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// persistedStat is the on-disk shape of one IP's stats, per spec §6's
// persistence file format.
type persistedStat struct {
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`
	Connections   uint64 `json:"connections"`
}

type persistedFile struct {
	Stats   map[string]persistedStat `json:"stats"`
	SavedAt int64                    `json:"saved_at"`
}

// LoadPersistence loads a previously saved snapshot, if path exists.
// Unknown or invalid IPs are skipped; parse failures are non-fatal —
// the accountant simply starts cold.
func (a *Accountant) LoadPersistence(path string) error {
	if path == "" || !a.enabled {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("traffic: read persistence file: %w", err)
	}

	var pf persistedFile
	if err := json.Unmarshal(b, &pf); err != nil {
		logrus.WithError(err).Warn("traffic: persistence file is malformed, starting cold")
		return nil
	}

	var snaps []Snapshot
	for ipStr, s := range pf.Stats {
		ip, err := netip.ParseAddr(ipStr)
		if err != nil {
			logrus.WithField("ip", ipStr).Warn("traffic: skipping invalid IP in persistence file")
			continue
		}
		snaps = append(snaps, Snapshot{IP: ip, BytesIn: s.BytesReceived, BytesOut: s.BytesSent, Connections: s.Connections})
	}
	a.restore(snaps)
	return nil
}

// SavePersistenceAtomic writes the current snapshot to path by writing
// to a temp file in the same directory and renaming over the
// destination, so a crash mid-write never corrupts the previous file.
func (a *Accountant) SavePersistenceAtomic(path string) error {
	if path == "" || !a.enabled {
		return nil
	}

	pf := persistedFile{Stats: make(map[string]persistedStat), SavedAt: time.Now().Unix()}
	for _, s := range a.Snapshots() {
		pf.Stats[s.IP.String()] = persistedStat{
			BytesReceived: s.BytesIn,
			BytesSent:     s.BytesOut,
			Connections:   s.Connections,
		}
	}

	b, err := json.Marshal(pf)
	if err != nil {
		return fmt.Errorf("traffic: marshal persistence snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sniproxy-traffic-*.tmp")
	if err != nil {
		return fmt.Errorf("traffic: create temp persistence file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("traffic: write temp persistence file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("traffic: close temp persistence file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("traffic: rename persistence file into place: %w", err)
	}
	return nil
}

// WriteStatsFile renders the top-N tracked IPs by total bytes as the
// fixed-width diagnostic table of spec §6. Overwritten each call.
func (a *Accountant) WriteStatsFile(path string, topN int) error {
	if path == "" || !a.enabled {
		return nil
	}

	snaps := a.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Total() > snaps[j].Total() })
	if topN > 0 && len(snaps) > topN {
		snaps = snaps[:topN]
	}

	var out []byte
	out = append(out, []byte(fmt.Sprintf("%-4s %-40s %12s %12s %12s %8s\n", "rank", "ip", "up", "down", "total", "conns"))...)
	for i, s := range snaps {
		out = append(out, []byte(fmt.Sprintf("%-4d %-40s %12d %12d %12d %8d\n",
			i+1, s.IP.String(), s.BytesIn, s.BytesOut, s.Total(), s.Connections))...)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sniproxy-stats-*.tmp")
	if err != nil {
		return fmt.Errorf("traffic: create temp stats file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("traffic: write temp stats file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
