package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/ledgerwell/decisioning/internal/domain"
	"github.com/ledgerwell/decisioning/internal/mlclassifier"
)

// Bootstrap loads the Classifier and CalibrationHandle a tenant's Engine
// should start with: the most recently promoted retrain's blob artifact if
// one exists, or an untrained classifier skeleton over the tenant's chart
// of accounts otherwise (the same shape engine_test.go's blankClassifier
// builds for tests). This closes the loop jobs.go's handleRetrain opens
// when it writes a promoted model's Snapshot to blob storage.
func Bootstrap(ctx context.Context, store domain.Store, blob domain.BlobStore, tenant domain.TenantID) (*mlclassifier.Classifier, *CalibrationHandle, error) {
	accounts, err := store.ListAccounts(ctx, tenant)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: bootstrap: list accounts: %w", err)
	}
	codes := make([]string, 0, len(accounts))
	for _, a := range accounts {
		codes = append(codes, a.Code)
	}
	sort.Strings(codes)

	artifactID, err := latestPromotedArtifact(ctx, store, tenant)
	if err != nil {
		return nil, nil, err
	}

	if artifactID != "" && blob != nil {
		data, found, err := blob.Get(ctx, artifactID)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: bootstrap: get artifact %s: %w", artifactID, err)
		}
		if found {
			snap, err := mlclassifier.UnmarshalSnapshot(data)
			if err != nil {
				return nil, nil, fmt.Errorf("pipeline: bootstrap: unmarshal snapshot: %w", err)
			}
			classifier := mlclassifier.FromSnapshot(snap)

			calibration, ok, err := store.CurrentCalibrationModel(ctx, tenant, snap.ModelVersionID)
			if err != nil {
				return nil, nil, fmt.Errorf("pipeline: bootstrap: current calibration model: %w", err)
			}
			if ok {
				return classifier, NewCalibrationHandle(calibration), nil
			}
			return classifier, NewCalibrationHandle(blankCalibration(snap.ModelVersionID)), nil
		}
	}

	vocab := mlclassifier.BuildVocabulary(nil)
	modelVersionID := "bootstrap-" + string(tenant)
	classifier := mlclassifier.NewClassifier(modelVersionID, vocab, codes)
	return classifier, NewCalibrationHandle(blankCalibration(modelVersionID)), nil
}

// latestPromotedArtifact returns the artifact_id of the most recently
// promoted RetrainEvent, or "" if none has ever promoted. RetrainEvent
// itself carries no model_version_id (jobs.go's handleRetrain mints one ad
// hoc per training run) — the artifact's own Snapshot.ModelVersionID is the
// only durable record of it, so the caller resolves it after fetching the
// blob.
func latestPromotedArtifact(ctx context.Context, store domain.Store, tenant domain.TenantID) (artifactID string, err error) {
	events, err := store.ListRetrainEvents(ctx, tenant)
	if err != nil {
		return "", fmt.Errorf("pipeline: bootstrap: list retrain events: %w", err)
	}
	var latest *domain.RetrainEvent
	for i := range events {
		e := &events[i]
		if !e.Promoted || e.ArtifactID == "" {
			continue
		}
		if latest == nil || e.FinishedAt.After(latest.FinishedAt) {
			latest = e
		}
	}
	if latest == nil {
		return "", nil
	}
	return latest.ArtifactID, nil
}

// blankCalibration is the identity mapping (calibrated_p == raw score) used
// until a tenant's first retrain produces a fitted one.
func blankCalibration(modelVersionID string) domain.CalibrationModel {
	return domain.CalibrationModel{
		ModelVersionID: modelVersionID,
		Method:         domain.CalibrationIsotonic,
		Parameters:     []float64{0, 1},
		BinEdges:       []float64{0, 1},
	}
}
