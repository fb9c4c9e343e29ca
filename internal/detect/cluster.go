package detect

import (
	"context"
	"log/slog"
	"math"
	"sort"
)

// Embedder turns topic strings into dense vectors. Implementations wrap
// an external embedding service; a nil Embedder disables clustering.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// ClusterTopics groups semantically similar topics by running density
// clustering (DBSCAN with cosine distance) over their embeddings.
// Clusters smaller than minSize and noise points are dropped.
func ClusterTopics(ctx context.Context, embedder Embedder, topics []string, eps float64, minSamples, minSize int) ([][]string, error) {
	if embedder == nil || len(topics) < 2 {
		return nil, nil
	}

	sorted := make([]string, len(topics))
	copy(sorted, topics)
	sort.Strings(sorted)

	vectors, err := embedder.Embed(ctx, sorted)
	if err != nil {
		slog.Error("[TopicCluster] Embedding failed", "error", err)
		return nil, err
	}
	if len(vectors) != len(sorted) {
		return nil, nil
	}

	labels := dbscan(vectors, eps, minSamples)

	byLabel := make(map[int][]string)
	for i, label := range labels {
		if label < 0 {
			continue
		}
		byLabel[label] = append(byLabel[label], sorted[i])
	}

	labelOrder := make([]int, 0, len(byLabel))
	for label := range byLabel {
		labelOrder = append(labelOrder, label)
	}
	sort.Ints(labelOrder)

	var clusters [][]string
	for _, label := range labelOrder {
		cluster := byLabel[label]
		if len(cluster) >= minSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters, nil
}

// dbscan labels each point with a cluster id, or -1 for noise.
func dbscan(points [][]float64, eps float64, minSamples int) []int {
	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = noise
			continue
		}
		labels[i] = cluster

		// Expand the cluster over the density-reachable frontier.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if labels[j] == noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			next := regionQuery(points, j, eps)
			if len(next) >= minSamples {
				neighbors = append(neighbors, next...)
			}
		}
		cluster++
	}
	return labels
}

func regionQuery(points [][]float64, i int, eps float64) []int {
	var out []int
	for j := range points {
		if cosineDistance(points[i], points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func cosineDistance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
