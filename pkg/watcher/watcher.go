// Package watcher turns bucket notifications into pipeline triggers.
package watcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/minio"
	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/service"
)

const (
	resubscribeBaseDelay = 1 * time.Second
	resubscribeMaxDelay  = 30 * time.Second
)

// Watcher subscribes to object-created notifications and hands each landed
// object to the service. The notification stream is at-least-once and can
// drop on network errors; the watcher resubscribes with backoff and relies
// on the service's dedup window to absorb replays.
type Watcher struct {
	objectStorage minio.ObjectStorageI
	service       service.Service
	ingestPrefix  string
	log           *zap.Logger
}

// New returns a watcher bound to the given storage and service.
func New(objectStorage minio.ObjectStorageI, svc service.Service, ingestPrefix string, log *zap.Logger) *Watcher {
	return &Watcher{
		objectStorage: objectStorage,
		service:       svc,
		ingestPrefix:  ingestPrefix,
		log:           log,
	}
}

// Run blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	delay := resubscribeBaseDelay
	for {
		if ctx.Err() != nil {
			return
		}

		w.log.Info("Watching bucket notifications", zap.String("prefix", w.ingestPrefix))
		events := w.objectStorage.ListenObjectCreated(ctx, w.ingestPrefix)

		received := false
		for ref := range events {
			received = true
			if err := w.service.OnObjectCreated(ctx, ref); err != nil {
				// The trigger was rolled back; a replayed notification or a
				// manual re-upload can retry it.
				w.log.Error("Failed to process landed object",
					zap.String("objectRef", ref.String()), zap.Error(err))
			}
		}
		if ctx.Err() != nil {
			return
		}

		// Channel closed: the stream broke. Back off harder when it broke
		// immediately.
		if received {
			delay = resubscribeBaseDelay
		} else {
			delay = min(delay*2, resubscribeMaxDelay)
		}
		w.log.Warn("Bucket notification stream closed, resubscribing",
			zap.Duration("retryIn", delay))
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
