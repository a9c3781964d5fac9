package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Observation is a single EtherCAT PDU seen on the wire: one datagram
// within one captured Ethernet frame. The same logical PDU is observed
// twice per round trip, once outbound from the master and once on its
// way back.
type Observation struct {
	// Capture-tool frame sequence number.
	PacketNumber int64

	// Capture timestamp in nanoseconds relative to the capture start.
	TimeNs int64

	// Datagram command code.
	Command Command

	// Position of the datagram within its Ethernet frame. Multiple PDUs
	// may be coalesced into one frame.
	Index int
}

// PDU is a paired TX/RX round trip for one datagram. PacketNumber and
// Index identify the outbound observation, for cross-referencing against
// the raw capture file.
type PDU struct {
	PacketNumber int64
	Index        int
	Command      Command
	TxTimeNs     int64
	RxTimeNs     int64
}

// The export is produced with one line per captured frame:
//
//	tshark -r run.pcapng -T fields -E separator=, -E aggregator=; \
//	  -e frame.number -e frame.time_relative -e ecat.cmd -e ecat.idx
//
// Frames carrying multiple datagrams have their cmd/idx fields aggregated
// with semicolons, which expand to one Observation each.
const exportColumns = 4

// ParseExportFile reads a capture export from disk.
func ParseExportFile(path string) ([]Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture export: %w", err)
	}
	defer func() { _ = f.Close() }()

	obs, err := ParseExport(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return obs, nil
}

// ParseExport parses a capture export into per-PDU observations, ordered
// as captured.
func ParseExport(r io.Reader) ([]Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = exportColumns
	cr.ReuseRecord = true

	var obs []Observation

	for line := 1; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rowObs, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		obs = append(obs, rowObs...)
	}

	return obs, nil
}

// parseRecord expands one export line into its per-datagram observations.
func parseRecord(record []string) ([]Observation, error) {
	packetNumber, err := strconv.ParseInt(strings.TrimSpace(record[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing frame number %q: %w", record[0], err)
	}

	timeNs, err := parseSecondsNs(record[1])
	if err != nil {
		return nil, err
	}

	cmds := strings.Split(record[2], ";")
	idxs := strings.Split(record[3], ";")

	if len(cmds) != len(idxs) {
		return nil, fmt.Errorf(
			"frame %d: %d commands but %d indices",
			packetNumber, len(cmds), len(idxs),
		)
	}

	obs := make([]Observation, 0, len(cmds))

	for i := range cmds {
		cmd, err := ParseCommand(cmds[i])
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", packetNumber, err)
		}

		idx, err := strconv.ParseUint(strings.TrimSpace(idxs[i]), 0, 8)
		if err != nil {
			return nil, fmt.Errorf(
				"frame %d: parsing datagram index %q: %w",
				packetNumber, idxs[i], err,
			)
		}

		obs = append(obs, Observation{
			PacketNumber: packetNumber,
			TimeNs:       timeNs,
			Command:      cmd,
			Index:        int(idx),
		})
	}

	return obs, nil
}

// parseSecondsNs converts a decimal seconds string (e.g. "1.000347193")
// to integer nanoseconds without going through a float, so nanosecond
// precision survives arbitrarily long captures.
func parseSecondsNs(s string) (int64, error) {
	s = strings.TrimSpace(s)

	whole, frac, _ := strings.Cut(s, ".")

	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}

	if sec < 0 {
		return 0, fmt.Errorf("negative timestamp %q", s)
	}

	if len(frac) > 9 {
		frac = frac[:9]
	}

	// Right-pad the fraction to nanosecond resolution.
	frac += strings.Repeat("0", 9-len(frac))

	ns, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing timestamp fraction %q: %w", s, err)
	}

	return sec*1_000_000_000 + ns, nil
}

// pduKey identifies a datagram across its outbound and return
// observations. The master reuses (command, index) only after the
// in-flight datagram returns, so the first unmatched observation for a
// key is the TX and the next one is its RX.
type pduKey struct {
	cmd Command
	idx int
}

// Pair matches TX/RX observation pairs into round-trip PDUs. Observations
// must be in capture order. Observations with no matching return frame
// (e.g. the capture was cut off mid-flight) are returned separately.
func Pair(obs []Observation) (pdus []PDU, unmatched []Observation) {
	pending := make(map[pduKey]Observation, 16)

	for _, o := range obs {
		key := pduKey{cmd: o.Command, idx: o.Index}

		tx, ok := pending[key]
		if !ok {
			pending[key] = o

			continue
		}

		delete(pending, key)

		pdus = append(pdus, PDU{
			PacketNumber: tx.PacketNumber,
			Index:        tx.Index,
			Command:      tx.Command,
			TxTimeNs:     tx.TimeNs,
			RxTimeNs:     o.TimeNs,
		})
	}

	for _, o := range pending {
		unmatched = append(unmatched, o)
	}

	return pdus, unmatched
}
