package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/domain/entity"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/vmrun"
)

// GuestLogStrategy reads the guest's Windows event log through the
// hypervisor: it runs a PowerShell query in the guest that writes a JSON
// artifact to a fixed per-VM path, then copies that artifact to the local
// capture directory and parses it. The two remote stages fail independently;
// either failure makes the strategy indefinite.
type GuestLogStrategy struct {
	client     vmrun.Client
	eventID    int
	captureDir string
}

func NewGuestLogStrategy(client vmrun.Client, eventID int, captureDir string) GuestLogStrategy {
	return GuestLogStrategy{
		client:     client,
		eventID:    eventID,
		captureDir: captureDir,
	}
}

func (s GuestLogStrategy) Name() string {
	return "guest-event-log"
}

func (s GuestLogStrategy) Check(ctx context.Context, vm entity.VM, windowStart, windowEnd time.Time) (entity.EventRecord, bool) {
	logger := log.Logger().WithValues("vm", vm.Name)

	// Fixed per-VM filename, the previous artifact gets overwritten.
	filename := fmt.Sprintf("event_count_%s.txt", vm.Name)
	guestPath := `C:\` + filename
	hostPath := filepath.Join(s.captureDir, filename)

	script := buildEventQuery(s.eventID, windowStart, windowEnd, guestPath)

	res, err := s.client.RunProgramInGuest(ctx, vm, powershellPath, "-Command", script)
	if err != nil {
		logger.Error(err, "Failed to run event query in guest")

		return entity.EventRecord{}, false
	}

	if res.Kind != vmrun.KindOK {
		logger.V(1).Info("Event query failed in guest", "kind", res.Kind.String(), "output", res.Output())

		return entity.EventRecord{}, false
	}

	res, err = s.client.CopyFileFromGuestToHost(ctx, vm, guestPath, hostPath)
	if err != nil {
		logger.Error(err, "Failed to copy event artifact from guest")

		return entity.EventRecord{}, false
	}

	if res.Kind != vmrun.KindOK {
		logger.V(1).Info("Event artifact copy failed", "kind", res.Kind.String(), "output", res.Output())

		return entity.EventRecord{}, false
	}

	// The artifact stays in the capture directory for later inspection.
	record, err := parseArtifact(hostPath)
	if err != nil {
		logger.Error(err, "Failed to parse event artifact", "path", hostPath)

		return entity.EventRecord{}, false
	}

	return record, true
}

func parseArtifact(path string) (entity.EventRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return entity.EventRecord{}, fmt.Errorf("failed to read artifact: %w", err)
	}

	parsed := artifact{}

	err = json.Unmarshal(data, &parsed)
	if err != nil {
		return entity.EventRecord{}, fmt.Errorf("failed to unmarshal artifact: %w", err)
	}

	ret := entity.EventRecord{
		Found: parsed.Count > 0,
	}

	if parsed.LatestTime != noneSentinel && parsed.LatestTime != "" {
		// Guest timestamps are taken at face value: no correction for clock
		// drift between guest and host.
		latest, err := time.ParseInLocation(timeLayout, parsed.LatestTime, time.Local)
		if err != nil {
			return entity.EventRecord{}, fmt.Errorf("failed to parse latest_time %q: %w", parsed.LatestTime, err)
		}

		ret.Latest = latest
	}

	return ret, nil
}
