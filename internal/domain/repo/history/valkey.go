package history

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const restartKey = "vmmonitor:restarts"

// ValkeyRepo persists restart history in a valkey hash so a monitor restart
// does not forget which event occurrences were already handled.
type ValkeyRepo struct {
	client valkey.Client
}

func NewValkeyRepo(client valkey.Client) ValkeyRepo {
	return ValkeyRepo{
		client: client,
	}
}

func (r ValkeyRepo) LastRestart(ctx context.Context, vmName string) (time.Time, bool, error) {
	command := r.client.B().Hget().Key(restartKey).Field(vmName).Build()

	resp := r.client.Do(ctx, command)

	err := resp.Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return time.Time{}, false, nil
		}

		return time.Time{}, false, fmt.Errorf("failed to get restart time for %s: %w", vmName, err)
	}

	value, err := resp.ToString()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("unexpected hget response type for %s: %w", vmName, err)
	}

	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse stored restart time for %s: %w", vmName, err)
	}

	return at, true, nil
}

func (r ValkeyRepo) MarkRestarted(ctx context.Context, vmName string, at time.Time) error {
	value := at.Format(time.RFC3339Nano)

	command := r.client.B().Hset().Key(restartKey).FieldValue().FieldValue(vmName, value).Build()

	err := r.client.Do(ctx, command).Error()
	if err != nil {
		return fmt.Errorf("failed to set restart time for %s: %w", vmName, err)
	}

	return nil
}
