package store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/rs/zerolog"
)

// BlobStore derives content-addressed references for message bytes and
// replicates them to a secondary content store. Replication is best effort:
// the primary write has already succeeded before anything here runs, so
// failures are logged and never surfaced to the client.
type BlobStore struct {
	replicaURL string
	http       *http.Client
	log        zerolog.Logger
}

func NewBlobStore(replicaURL string, log zerolog.Logger) *BlobStore {
	return &BlobStore{
		replicaURL: replicaURL,
		http:       &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Reference computes the content-derived id for a message's canonical bytes.
func Reference(data []byte) (string, error) {
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// Replicate pushes the bytes to the secondary store in the background.
func (b *BlobStore) Replicate(reference string, data []byte) {
	if b.replicaURL == "" {
		return
	}
	body := append([]byte(nil), data...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		url := fmt.Sprintf("%s/blobs/%s", b.replicaURL, reference)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			b.log.Warn().Err(err).Str("reference", reference).Msg("blob replication request failed")
			return
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := b.http.Do(req)
		if err != nil {
			b.log.Warn().Err(err).Str("reference", reference).Msg("blob replication failed")
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusMultipleChoices {
			b.log.Warn().Int("status", resp.StatusCode).Str("reference", reference).Msg("blob replica rejected write")
		}
	}()
}

// Unpin asks the secondary store to drop replicated content. Best effort,
// used by the space sweep.
func (b *BlobStore) Unpin(references []string) {
	if b.replicaURL == "" || len(references) == 0 {
		return
	}
	refs := append([]string(nil), references...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		for _, ref := range refs {
			url := fmt.Sprintf("%s/blobs/%s", b.replicaURL, ref)
			req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
			if err != nil {
				continue
			}
			resp, err := b.http.Do(req)
			if err != nil {
				b.log.Debug().Err(err).Str("reference", ref).Msg("blob unpin failed")
				continue
			}
			resp.Body.Close()
		}
	}()
}
