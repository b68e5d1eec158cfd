// Package qdrant provides a vector driver backed by a remote Qdrant
// instance, for deployments where embeddings live in a dedicated ANN
// service rather than inside the memory store's database.
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrantgo "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/engramhq/engram/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for engram embeddings.
	DefaultCollectionName = "engram"

	payloadOwner    = "owner"
	payloadMemoryID = "memory_id"
)

// Driver implements vector.Driver using Qdrant's gRPC API.
type Driver struct {
	client         *qdrantgo.Client
	collectionName string
	logger         *zap.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host is the Qdrant gRPC host.
	Host string

	// Port is the Qdrant gRPC port (Qdrant's default is 6334).
	Port int

	// CollectionName defaults to DefaultCollectionName if empty.
	CollectionName string

	// Dimensions is the embedding vector size, required to create the
	// collection on first use.
	Dimensions uint
}

// NewDriver creates a Qdrant vector driver and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.Host == "" {
		return nil, fmt.Errorf("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}

	port := c.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host: c.Host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qdrantgo.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qdrantgo.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
	}

	logger.Info("qdrant vector driver initialized",
		zap.String("host", c.Host),
		zap.Int("port", port),
		zap.String("collection", collectionName),
	)

	return &Driver{
		client:         client,
		collectionName: collectionName,
		logger:         logger,
	}, nil
}

// pointID derives a stable Qdrant UUID point ID from a memory ID.
// Qdrant point IDs must be integers or UUIDs; memory IDs are ULIDs.
func pointID(memoryID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(memoryID)).String()
}

// Add upserts documents; same-ID documents are overwritten by Qdrant.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrantgo.PointStruct, 0, len(docs))
	for _, doc := range docs {
		points = append(points, &qdrantgo.PointStruct{
			Id:      qdrantgo.NewID(pointID(doc.ID)),
			Vectors: qdrantgo.NewVectorsDense(doc.Embedding),
			Payload: qdrantgo.NewValueMap(map[string]any{
				payloadOwner:    doc.Owner,
				payloadMemoryID: doc.ID,
			}),
		})
	}

	_, err := d.client.Upsert(ctx, &qdrantgo.UpsertPoints{
		CollectionName: d.collectionName,
		Points:         points,
		Wait:           qdrantgo.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("added documents to qdrant",
		zap.Int("count", len(docs)),
	)

	return nil
}

// Query finds the topK most similar documents filtered to one owner.
func (d *Driver) Query(ctx context.Context, owner string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points, err := d.client.Query(ctx, &qdrantgo.QueryPoints{
		CollectionName: d.collectionName,
		Query:          qdrantgo.NewQueryDense(embedding),
		Limit:          qdrantgo.PtrOf(uint64(topK)),
		Filter: &qdrantgo.Filter{
			Must: []*qdrantgo.Condition{
				qdrantgo.NewMatch(payloadOwner, owner),
			},
		},
		WithPayload: qdrantgo.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		memoryID := p.Payload[payloadMemoryID].GetStringValue()
		if memoryID == "" {
			continue
		}

		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:    memoryID,
				Owner: owner,
			},
			Score: p.Score,
		})
	}

	d.logger.Debug("queried qdrant",
		zap.String("owner", owner),
		zap.Int("results", len(results)),
	)

	return results, nil
}

// Delete removes documents by their memory IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrantgo.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrantgo.NewID(pointID(id)))
	}

	_, err := d.client.Delete(ctx, &qdrantgo.DeletePoints{
		CollectionName: d.collectionName,
		Points:         qdrantgo.NewPointsSelector(pointIDs...),
		Wait:           qdrantgo.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	return nil
}

// Close releases the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

// Ensure Driver implements vector.Driver
var _ vector.Driver = (*Driver)(nil)
