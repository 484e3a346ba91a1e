// Package semantic is the sole owner of all Qdrant operations: collection
// schema management, batch upsert, and k-NN search over the named image
// vector.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/retina-search/retina/engine/domain"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore wraps the Qdrant gRPC clients for one collection.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	cfg         domain.CollectionConfig
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, cfg domain.CollectionConfig) (*VectorStore, error) {
	if err := domain.ValidateCollectionConfig(cfg); err != nil {
		return nil, fmt.Errorf("semantic: %w", err)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		cfg:         cfg,
	}, nil
}

// NewWithClients builds a store from existing clients. Used by tests.
func NewWithClients(points pointsAPI, collections collectionsAPI, cfg domain.CollectionConfig) *VectorStore {
	return &VectorStore{points: points, collections: collections, cfg: cfg}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Config returns the collection config the store was built with.
func (v *VectorStore) Config() domain.CollectionConfig { return v.cfg }

// EnsureCollection creates the collection if it does not exist. If it
// already exists with an identical vector name and dimension the call is
// a no-op; any disagreement is a domain.ErrSchemaConflict. Safe to call
// concurrently: when a racing caller creates the collection first, the
// failed Create is re-checked against the live schema and succeeds if
// it matches.
func (v *VectorStore) EnsureCollection(ctx context.Context) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.cfg.Name {
			return v.verifySchema(ctx)
		}
	}

	params := &pb.VectorParams{
		Size:     uint64(v.cfg.Dimension),
		Distance: pb.Distance_Cosine,
	}
	if v.cfg.OnDisk {
		onDisk := true
		params.OnDisk = &onDisk
	}
	if v.cfg.Quantization == domain.QuantInt8 {
		params.QuantizationConfig = &pb.QuantizationConfig{
			Quantization: &pb.QuantizationConfig_Scalar{
				Scalar: &pb.ScalarQuantization{Type: pb.QuantizationType_Int8},
			},
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.cfg.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_ParamsMap{
				ParamsMap: &pb.VectorParamsMap{
					Map: map[string]*pb.VectorParams{v.cfg.VectorName: params},
				},
			},
		},
	})
	if err != nil {
		// A concurrent caller may have created the collection between
		// List and Create. If it now exists with the right schema the
		// race was won by someone else and this call succeeded too.
		verr := v.verifySchema(ctx)
		if verr == nil {
			return nil
		}
		if errors.Is(verr, domain.ErrSchemaConflict) {
			return verr
		}
		return fmt.Errorf("semantic: create collection %s: %w", v.cfg.Name, err)
	}
	return nil
}

// verifySchema compares the live collection against the configured
// vector name and dimension.
func (v *VectorStore) verifySchema(ctx context.Context) error {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: v.cfg.Name})
	if err != nil {
		return fmt.Errorf("semantic: get collection %s: %w", v.cfg.Name, err)
	}

	vectors := info.GetResult().GetConfig().GetParams().GetVectorsConfig()
	named := vectors.GetParamsMap().GetMap()
	params, ok := named[v.cfg.VectorName]
	if !ok {
		got := "unnamed vector"
		for name := range named {
			got = name
			break
		}
		return &domain.SchemaError{Field: "vector name", Want: v.cfg.VectorName, Got: got}
	}
	if int(params.GetSize()) != v.cfg.Dimension {
		return &domain.SchemaError{
			Field: "vector dimension",
			Want:  fmt.Sprintf("%d", v.cfg.Dimension),
			Got:   fmt.Sprintf("%d", params.GetSize()),
		}
	}
	return nil
}

// DeleteCollection drops the collection and its schema.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: v.cfg.Name})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.cfg.Name, err)
	}
	return nil
}

// Clear removes every point while keeping the collection schema.
func (v *VectorStore) Clear(ctx context.Context) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.cfg.Name,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{}},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: clear collection %s: %w", v.cfg.Name, err)
	}
	return nil
}

// Upsert stores image records. Every record's vector dimension is
// validated before anything is sent; a violating record fails the call
// with a schema error and nothing is inserted. On engine errors the
// batch is halved and retried down to single records; records that still
// fail are reported through domain.UpsertError so the caller can retry
// them individually.
func (v *VectorStore) Upsert(ctx context.Context, records []domain.ImageRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if err := domain.ValidateRecord(r, v.cfg.Dimension); err != nil {
			return fmt.Errorf("semantic: %w", err)
		}
	}

	var failed []string
	lastErr := v.upsertSplit(ctx, records, &failed)
	if len(failed) > 0 {
		return &domain.UpsertError{FailedIDs: failed, Err: lastErr}
	}
	return nil
}

// upsertSplit sends one batch, halving on failure. Returns the last
// engine error seen; failed record IDs accumulate into failed.
func (v *VectorStore) upsertSplit(ctx context.Context, records []domain.ImageRecord, failed *[]string) error {
	err := v.upsertBatch(ctx, records)
	if err == nil {
		return nil
	}
	if len(records) == 1 {
		*failed = append(*failed, records[0].ID)
		return err
	}
	mid := len(records) / 2
	errA := v.upsertSplit(ctx, records[:mid], failed)
	errB := v.upsertSplit(ctx, records[mid:], failed)
	if errB != nil {
		return errB
	}
	return errA
}

func (v *VectorStore) upsertBatch(ctx context.Context, records []domain.ImageRecord) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vectors{
					Vectors: &pb.NamedVectors{
						Vectors: map[string]*pb.Vector{
							v.cfg.VectorName: {Data: r.Vector},
						},
					},
				},
			},
			Payload: map[string]*pb.Value{
				payloadFilename: {Kind: &pb.Value_StringValue{StringValue: r.Filename}},
				payloadPath:     {Kind: &pb.Value_StringValue{StringValue: r.Path}},
				payloadCategory: {Kind: &pb.Value_StringValue{StringValue: r.Category}},
			},
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.cfg.Name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN search over the named vector with an optional
// exact-match category filter. Results are strictly ordered by
// descending score; ties keep the engine's order. Non-positive topK
// falls back to domain.DefaultTopK.
func (v *VectorStore) Search(ctx context.Context, vector []float32, topK int, category string) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	vectorName := v.cfg.VectorName
	req := &pb.SearchPoints{
		CollectionName: v.cfg.Name,
		Vector:         vector,
		VectorName:     &vectorName,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if category != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{fieldMatch(payloadCategory, category)}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]domain.SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := domain.SearchResult{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		payload := r.GetPayload()
		sr.Filename = payload[payloadFilename].GetStringValue()
		sr.Path = payload[payloadPath].GetStringValue()
		sr.Category = payload[payloadCategory].GetStringValue()
		results[i] = sr
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
