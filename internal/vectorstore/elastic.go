package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"ragchat-go/pkg/log"
)

// ElasticIndex 把块存放在 Elasticsearch 的 dense_vector 字段中。
type ElasticIndex struct {
	client    *elasticsearch.Client
	indexName string
}

func NewElasticIndex(client *elasticsearch.Client, indexName string) *ElasticIndex {
	return &ElasticIndex{client: client, indexName: indexName}
}

// Write 通过一次 bulk 请求写入全部块，并等待刷新以便立即可查。
func (e *ElasticIndex) Write(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		meta := map[string]any{"index": map[string]any{"_index": e.indexName, "_id": c.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(c); err != nil {
			return err
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk write failed: %s", res.String())
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Status >= 300 {
					return fmt.Errorf("bulk item failed (%d): %s", r.Status, r.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk write reported errors")
	}
	return nil
}

// DeleteDocuments 用 delete_by_query 删除指定文档的全部块；索引不存在时视为成功。
func (e *ElasticIndex) DeleteDocuments(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"terms": map[string]any{"document_id": documentIDs}},
	})
	if err != nil {
		return err
	}
	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		bytes.NewReader(body),
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
		e.client.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("delete_by_query failed: %s", res.String())
	}
	return nil
}

// Search 执行 kNN 检索。
func (e *ElasticIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	var buf bytes.Buffer
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": k * 10,
		},
		"_source": []string{"chunk_id", "document_id", "chunk_index", "text"},
		"size":    k,
	}
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, err
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("[ElasticIndex] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source Chunk   `json:"_source"`
				Score  float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}
	hits := make([]Hit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, Hit{Chunk: h.Source, Score: h.Score})
	}
	return hits, nil
}
