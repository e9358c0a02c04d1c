package vector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// RemoteConfig describes the Qdrant backend.
type RemoteConfig struct {
	URL        string
	Collection string
	APIKey     string
	Dim        int
	Timeout    time.Duration
}

type remoteIndex struct {
	client     *qdrant.Client
	collection string
	timeout    time.Duration
}

// pointID derives the stable Qdrant point id for a (kind, id) pair. The
// derivation is deterministic so re-upserts always hit the same point.
func pointID(kind, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("clawboard:"+kind+":"+id)).String()
}

func newRemoteIndex(ctx context.Context, cfg *RemoteConfig) (*remoteIndex, error) {
	host, port, useTLS, err := splitQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", cfg.URL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	r := &remoteIndex{client: client, collection: cfg.Collection, timeout: timeout}

	if err := r.ensureCollection(ctx, cfg.Dim); err != nil {
		client.Close()
		return nil, err
	}
	return r, nil
}

func (r *remoteIndex) ensureCollection(ctx context.Context, dim int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("failed to check qdrant collection %s: %w", r.collection, err)
	}
	if exists {
		return nil
	}
	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create qdrant collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *remoteIndex) upsert(ctx context.Context, kind, id, scope string, vec []float32) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload := map[string]any{"kind": kind, "ref": id}
	if scope != "" {
		payload["scope"] = scope
	}
	_, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(pointID(kind, id)),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (r *remoteIndex) delete(ctx context.Context, kind, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewID(pointID(kind, id))),
	})
	return err
}

func (r *remoteIndex) topK(ctx context.Context, kind, scope string, query []float32, k int) ([]Match, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	must := []*qdrant.Condition{qdrant.NewMatch("kind", kind)}
	if scope != "" {
		must = append(must, qdrant.NewMatch("scope", scope))
	}
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(points))
	for _, p := range points {
		ref := p.GetPayload()["ref"].GetStringValue()
		if ref == "" {
			continue
		}
		matches = append(matches, Match{ID: ref, Score: float64(p.GetScore())})
	}
	return matches, nil
}

func (r *remoteIndex) close() {
	r.client.Close()
}

// splitQdrantURL accepts host:port pairs or full URLs (https enables TLS).
func splitQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	port = 6334
	trimmed := raw
	if strings.Contains(raw, "://") {
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant url %q: %w", raw, perr)
		}
		useTLS = u.Scheme == "https"
		trimmed = u.Host
	}
	host = trimmed
	if h, p, ok := strings.Cut(trimmed, ":"); ok {
		n, perr := strconv.Atoi(p)
		if perr != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant port in %q", raw)
		}
		host, port = h, n
	}
	return host, port, useTLS, nil
}
