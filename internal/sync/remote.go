package sync

import (
	"context"

	"github.com/salonsync/salonsync/internal/models"
	"github.com/salonsync/salonsync/internal/syncclient"
)

// HTTPRemote adapts a syncclient.Client bound to one business.
type HTTPRemote struct {
	Client     *syncclient.Client
	BusinessID string
}

// Push implements Remote.
func (r *HTTPRemote) Push(ctx context.Context, actions []Action) (PushResult, error) {
	req := &syncclient.PushRequest{Actions: make([]syncclient.ActionInput, len(actions))}
	for i, a := range actions {
		req.Actions[i] = syncclient.ActionInput{
			Type:           string(a.Type),
			Payload:        a.Payload,
			IdempotencyKey: a.IdempotencyKey,
			CreatedAt:      a.CreatedAt.UTC(),
		}
	}
	resp, err := r.Client.Push(ctx, r.BusinessID, req)
	if err != nil {
		return PushResult{}, err
	}
	out := PushResult{Applied: resp.Applied}
	for _, c := range resp.Conflicts {
		out.Conflicts = append(out.Conflicts, Rejection{IdempotencyKey: c.IdempotencyKey, Reason: c.Reason})
	}
	for _, f := range resp.Failed {
		out.Failed = append(out.Failed, Rejection{IdempotencyKey: f.IdempotencyKey, Reason: f.Reason})
	}
	return out, nil
}

// Pull implements Remote.
func (r *HTTPRemote) Pull(ctx context.Context, days int) (PullResult, error) {
	resp, err := r.Client.Pull(ctx, r.BusinessID, days)
	if err != nil {
		return PullResult{}, err
	}
	out := PullResult{Days: resp.Days, From: resp.From.UTC(), To: resp.To.UTC()}
	for _, a := range resp.Appointments {
		out.Appointments = append(out.Appointments, models.AppointmentSnapshot{
			ID:            a.ID,
			StartAt:       a.StartAt.UTC(),
			EndAt:         a.EndAt.UTC(),
			CustomerName:  a.CustomerName,
			CustomerPhone: a.CustomerPhone,
			EmployeeID:    a.EmployeeID,
			EmployeeName:  a.EmployeeName,
			ServiceID:     a.ServiceID,
			ServiceName:   a.ServiceName,
			Status:        models.AppointmentStatus(a.Status),
			UpdatedAt:     a.UpdatedAt.UTC(),
			Synced:        a.Synced,
		})
	}
	return out, nil
}

// HealthProbe returns a Probe hitting the server health endpoint.
func HealthProbe(c *syncclient.Client) Probe {
	return func(ctx context.Context) error {
		_, err := c.HealthCheck(ctx)
		return err
	}
}

var _ Remote = (*HTTPRemote)(nil)
