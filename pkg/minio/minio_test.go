package minio

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/minio/minio-go/v7/pkg/notification"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

func notificationRecord(t *testing.T, bucket, key string) notification.Event {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"s3": map[string]any{
			"bucket": map[string]any{"name": bucket},
			"object": map[string]any{"key": key},
		},
	})
	qt.Assert(t, err, qt.IsNil)

	var record notification.Event
	qt.Assert(t, json.Unmarshal(payload, &record), qt.IsNil)
	return record
}

func TestObjectRefFromRecord(t *testing.T) {
	c := qt.New(t)

	testcases := []struct {
		name    string
		rawKey  string
		wantKey string
	}{
		{
			name:    "plain key",
			rawKey:  "videos/demo.mp4",
			wantKey: "videos/demo.mp4",
		},
		{
			// S3 events encode spaces as "+".
			name:    "space in key",
			rawKey:  "videos/my+video.mp4",
			wantKey: "videos/my video.mp4",
		},
		{
			name:    "percent-encoded key",
			rawKey:  "videos/caf%C3%A9%20night.mp4",
			wantKey: "videos/café night.mp4",
		},
	}

	for _, tc := range testcases {
		c.Run(tc.name, func(c *qt.C) {
			ref, err := objectRefFromRecord(notificationRecord(t, "video-media", tc.rawKey))
			c.Assert(err, qt.IsNil)
			c.Assert(ref, qt.DeepEquals, types.ObjectRef{Bucket: "video-media", Key: tc.wantKey})
		})
	}
}

func TestObjectRefFromRecord_MalformedKey(t *testing.T) {
	c := qt.New(t)

	_, err := objectRefFromRecord(notificationRecord(t, "video-media", "videos/broken%zz.mp4"))
	c.Assert(err, qt.IsNotNil)
}
