// Package quota holds the plan tiers and decides whether an account may
// start another video or render more clips this month.
package quota

import (
	"context"
	"fmt"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
)

// Unlimited marks a resource without a cap.
const Unlimited = -1

type Plan struct {
	Name         string  `json:"name"`
	MaxVideos    int     `json:"max_videos"`
	MaxClips     int     `json:"max_clips"`
	MaxStorageMB float64 `json:"max_storage_mb"`
}

const (
	PlanFree     = "free"
	PlanPro      = "pro"
	PlanBusiness = "business"
)

var plans = map[string]Plan{
	PlanFree:     {Name: PlanFree, MaxVideos: 10, MaxClips: 50, MaxStorageMB: 2048},
	PlanPro:      {Name: PlanPro, MaxVideos: 100, MaxClips: 1000, MaxStorageMB: 20480},
	PlanBusiness: {Name: PlanBusiness, MaxVideos: Unlimited, MaxClips: Unlimited, MaxStorageMB: 102400},
}

// PlanFor returns the named plan; unknown or empty names get the free tier.
func PlanFor(name string) Plan {
	if p, ok := plans[name]; ok {
		return p
	}
	return plans[PlanFree]
}

// Status is the outcome of CheckLimits. A resource is exceeded once usage
// reaches its limit.
type Status struct {
	Plan            Plan                `json:"plan"`
	Usage           models.UsageCounter `json:"usage"`
	VideosExceeded  bool                `json:"videos_exceeded"`
	ClipsExceeded   bool                `json:"clips_exceeded"`
	StorageExceeded bool                `json:"storage_exceeded"`
}

// Any reports whether any resource is exhausted.
func (s Status) Any() bool {
	return s.VideosExceeded || s.ClipsExceeded || s.StorageExceeded
}

// RemainingClips is how many more clips fit this month; Unlimited when the
// plan has no cap.
func (s Status) RemainingClips() int {
	if s.Plan.MaxClips == Unlimited {
		return Unlimited
	}
	return max(s.Plan.MaxClips-s.Usage.ClipsGenerated, 0)
}

func CheckLimits(usage models.UsageCounter, planName string) Status {
	plan := PlanFor(planName)
	return Status{
		Plan:            plan,
		Usage:           usage,
		VideosExceeded:  reached(usage.VideosProcessed, plan.MaxVideos),
		ClipsExceeded:   reached(usage.ClipsGenerated, plan.MaxClips),
		StorageExceeded: plan.MaxStorageMB != Unlimited && usage.StorageUsedMB >= plan.MaxStorageMB,
	}
}

func reached(used, limit int) bool {
	return limit != Unlimited && used >= limit
}

// UsageStore is the slice of the project store the tracker needs.
type UsageStore interface {
	GetOrCreateUsage(ctx context.Context, accountID uuid.UUID) (*models.UsageCounter, error)
	ReserveVideo(ctx context.Context, accountID uuid.UUID, limit int) (*models.UsageCounter, bool, error)
	ReserveClips(ctx context.Context, accountID uuid.UUID, want, limit int) (int, error)
	ReleaseUsage(ctx context.Context, accountID uuid.UUID, videos, clips int) error
	AddStorageUsed(ctx context.Context, accountID uuid.UUID, mb float64) (*models.UsageCounter, error)
}

type Tracker struct {
	store UsageStore
}

func NewTracker(store UsageStore) *Tracker {
	return &Tracker{store: store}
}

// Check loads the current month's counter and evaluates it against the plan.
func (t *Tracker) Check(ctx context.Context, accountID uuid.UUID, plan string) (Status, error) {
	usage, err := t.store.GetOrCreateUsage(ctx, accountID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load usage: %w", err)
	}
	return CheckLimits(*usage, plan), nil
}

// Admit reserves one video from the account's monthly allowance, failing
// with QuotaExceededError when none is left or storage or clips are used
// up. The reservation is taken atomically, so concurrent admissions never
// exceed the plan. Callers hand it back with Release if the video never
// gets processed.
func (t *Tracker) Admit(ctx context.Context, accountID uuid.UUID, plan string) (Status, error) {
	status, err := t.Check(ctx, accountID, plan)
	if err != nil {
		return status, err
	}
	switch {
	case status.VideosExceeded:
		return status, videosExceeded(status)
	case status.StorageExceeded:
		return status, &apperrors.QuotaExceededError{Resource: "storage_mb", Used: status.Usage.StorageUsedMB, Limit: status.Plan.MaxStorageMB}
	case status.ClipsExceeded:
		return status, &apperrors.QuotaExceededError{Resource: "clips", Used: float64(status.Usage.ClipsGenerated), Limit: float64(status.Plan.MaxClips)}
	}

	usage, ok, err := t.store.ReserveVideo(ctx, accountID, status.Plan.MaxVideos)
	if err != nil {
		return status, fmt.Errorf("failed to reserve video: %w", err)
	}
	if !ok {
		status.Usage.VideosProcessed = status.Plan.MaxVideos
		status.VideosExceeded = true
		return status, videosExceeded(status)
	}
	return CheckLimits(*usage, plan), nil
}

func videosExceeded(status Status) error {
	return &apperrors.QuotaExceededError{Resource: "videos", Used: float64(status.Usage.VideosProcessed), Limit: float64(status.Plan.MaxVideos)}
}

// ReserveClips takes up to want clips from the monthly allowance and
// returns how many the plan still grants.
func (t *Tracker) ReserveClips(ctx context.Context, accountID uuid.UUID, plan string, want int) (int, error) {
	granted, err := t.store.ReserveClips(ctx, accountID, want, PlanFor(plan).MaxClips)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve clips: %w", err)
	}
	return granted, nil
}

// Release hands back reserved videos and clips that were not used.
func (t *Tracker) Release(ctx context.Context, accountID uuid.UUID, videos, clips int) error {
	if err := t.store.ReleaseUsage(ctx, accountID, videos, clips); err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// RecordStorage adds the stored bytes to the account's counter.
func (t *Tracker) RecordStorage(ctx context.Context, accountID uuid.UUID, storedBytes int64) error {
	if storedBytes <= 0 {
		return nil
	}
	if _, err := t.store.AddStorageUsed(ctx, accountID, float64(storedBytes)/(1<<20)); err != nil {
		return fmt.Errorf("failed to record storage: %w", err)
	}
	return nil
}
