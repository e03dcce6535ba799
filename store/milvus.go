package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videoIndex/core"
)

// MilvusIndex stores chunks in a Milvus collection with an HNSW cosine
// index. Attribute filters are compiled into boolean expressions.
type MilvusIndex struct {
	mc   client.Client
	coll string
	dim  int
}

func NewMilvusIndex(ctx context.Context, addr, collection string, dim int) (*MilvusIndex, error) {
	mc, err := client.NewClient(ctx, client.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusIndex{mc: mc, coll: collection, dim: dim}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		_ = mc.Close()
		return nil, err
	}
	return s, nil
}

func (s *MilvusIndex) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsPrimaryKey(true).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("source_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("modality").WithDataType(entity.FieldTypeVarChar).WithMaxLength(16))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("video_title").WithDataType(entity.FieldTypeVarChar).WithMaxLength(512))
		schema.WithField(entity.NewField().WithName("text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("frame_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))
		schema.WithName(s.coll)
		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (f Filter) expr() string {
	var parts []string
	if len(f.SourceIDs) > 0 {
		quoted := make([]string, 0, len(f.SourceIDs))
		for _, id := range f.SourceIDs {
			quoted = append(quoted, fmt.Sprintf("%q", id))
		}
		parts = append(parts, fmt.Sprintf("source_id in [%s]", strings.Join(quoted, ", ")))
	}
	if f.Modality != "" {
		parts = append(parts, fmt.Sprintf("modality == %q", string(f.Modality)))
	}
	return strings.Join(parts, " && ")
}

func (s *MilvusIndex) Upsert(ctx context.Context, chunks []core.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	n := len(chunks)
	ids := make([]string, 0, n)
	sourceIDs := make([]string, 0, n)
	modalities := make([]string, 0, n)
	starts := make([]float64, 0, n)
	ends := make([]float64, 0, n)
	titles := make([]string, 0, n)
	texts := make([]string, 0, n)
	framePaths := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	for _, c := range chunks {
		ids = append(ids, c.ID)
		sourceIDs = append(sourceIDs, c.SourceID)
		modalities = append(modalities, string(c.Modality))
		starts = append(starts, c.Start)
		ends = append(ends, c.End)
		titles = append(titles, c.VideoTitle)
		texts = append(texts, c.Text)
		framePaths = append(framePaths, c.FramePath)
		vectors = append(vectors, c.Vector)
	}
	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("source_id", sourceIDs),
		entity.NewColumnVarChar("modality", modalities),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnVarChar("video_title", titles),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("frame_path", framePaths),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return 0, fmt.Errorf("milvus insert: %w", err)
	}
	return n, nil
}

func (s *MilvusIndex) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]core.Hit, error) {
	if k <= 0 {
		k = 5
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	fields := []string{"source_id", "modality", "start", "end", "video_title", "text", "frame_path"}
	results, err := s.mc.Search(ctx, s.coll, nil, filter.expr(), fields,
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, k, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.Hit
	for _, r := range results {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			h := core.Hit{
				SourceID:   varcharAt(cols["source_id"], i),
				Modality:   core.Modality(varcharAt(cols["modality"], i)),
				Start:      doubleAt(cols["start"], i),
				End:        doubleAt(cols["end"], i),
				VideoTitle: varcharAt(cols["video_title"], i),
				Text:       varcharAt(cols["text"], i),
				FramePath:  varcharAt(cols["frame_path"], i),
				// COSINE scores are similarities; convert to distance.
				Distance: 1 - float64(r.Scores[i]),
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func (s *MilvusIndex) GetBySource(ctx context.Context, sourceID string) ([]core.Chunk, error) {
	expr := fmt.Sprintf("source_id == %q", sourceID)
	fields := []string{"id", "source_id", "modality", "start", "end", "video_title", "text", "frame_path", "vector"}
	rs, err := s.mc.Query(ctx, s.coll, nil, expr, fields)
	if err != nil {
		return nil, fmt.Errorf("milvus query: %w", err)
	}
	cols := map[string]entity.Column{}
	count := 0
	for _, c := range rs {
		cols[c.Name()] = c
		if c.Len() > count {
			count = c.Len()
		}
	}
	var vectors [][]float32
	if vc, ok := cols["vector"].(*entity.ColumnFloatVector); ok {
		vectors = vc.Data()
	}
	chunks := make([]core.Chunk, 0, count)
	for i := 0; i < count; i++ {
		c := core.Chunk{
			ID:         varcharAt(cols["id"], i),
			SourceID:   varcharAt(cols["source_id"], i),
			Modality:   core.Modality(varcharAt(cols["modality"], i)),
			Start:      doubleAt(cols["start"], i),
			End:        doubleAt(cols["end"], i),
			VideoTitle: varcharAt(cols["video_title"], i),
			Text:       varcharAt(cols["text"], i),
			FramePath:  varcharAt(cols["frame_path"], i),
		}
		if i < len(vectors) {
			c.Vector = vectors[i]
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (s *MilvusIndex) DeleteBySource(ctx context.Context, sourceID string) error {
	expr := fmt.Sprintf("source_id == %q", sourceID)
	if err := s.mc.Delete(ctx, s.coll, "", expr); err != nil {
		return fmt.Errorf("milvus delete: %w", err)
	}
	return nil
}

func (s *MilvusIndex) Close(_ context.Context) error {
	return s.mc.Close()
}

func varcharAt(col entity.Column, i int) string {
	c, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return ""
	}
	data := c.Data()
	if i >= len(data) {
		return ""
	}
	return data[i]
}

func doubleAt(col entity.Column, i int) float64 {
	c, ok := col.(*entity.ColumnDouble)
	if !ok {
		return 0
	}
	data := c.Data()
	if i >= len(data) {
		return 0
	}
	return data[i]
}
