package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Lineage maps taxon identifiers to their parents. It answers whether an
// annotation's source taxonomy matches a target's, where "matches" means
// equal or on the same ancestral line.
type Lineage struct {
	parent map[int]int
}

// Matches reports whether taxa a and b are equal or one is an ancestor of
// the other. Unknown taxa fall back to strict equality.
func (l *Lineage) Matches(a, b int) bool {
	if a == b {
		return true
	}
	if l == nil || l.parent == nil {
		return false
	}
	return l.ancestorOf(a, b) || l.ancestorOf(b, a)
}

func (l *Lineage) ancestorOf(anc, node int) bool {
	for seen := 0; seen < len(l.parent); seen++ {
		p, ok := l.parent[node]
		if !ok || p == node {
			return false
		}
		if p == anc {
			return true
		}
		node = p
	}
	return false
}

// Len returns the number of mapped taxa
func (l *Lineage) Len() int {
	return len(l.parent)
}

// Encode serializes the lineage as taxid<TAB>parent rows in ascending taxon
// order, so identical mappings encode identically.
func (l *Lineage) Encode() []byte {
	ids := make([]int, 0, len(l.parent))
	for id := range l.parent {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var buf bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&buf, "%d\t%d\n", id, l.parent[id])
	}
	return buf.Bytes()
}

// DecodeLineage parses taxid<TAB>parent rows
func DecodeLineage(data []byte) (*Lineage, error) {
	parent := make(map[int]int)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed lineage row: %q", line)
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse taxon id %q: %w", fields[0], err)
		}
		p, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parse parent id %q: %w", fields[1], err)
		}
		parent[id] = p
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lineage: %w", err)
	}
	return &Lineage{parent: parent}, nil
}

// TaxonomySource fetches the upstream taxon lineage dump
type TaxonomySource struct {
	url    string
	client *http.Client
}

// NewTaxonomySource creates a lineage fetcher for the given dump URL
func NewTaxonomySource(url string) *TaxonomySource {
	return &TaxonomySource{url: url, client: &http.Client{}}
}

// FetchMapping downloads the raw lineage dump. The result is cached and
// stashed by the workflow under the taxonomy artifact class.
func (t *TaxonomySource) FetchMapping(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch taxonomy mapping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy mapping: %w", err)
	}
	if _, err := DecodeLineage(data); err != nil {
		return nil, fmt.Errorf("validate taxonomy mapping: %w", err)
	}
	return data, nil
}
