// Package knowledge mirrors ingested filings into a Neo4j graph:
// (:Company)-[:FILED]->(:Document)-[:HAS_SECTION]->(:Section)-[:HAS_CHUNK]->(:Chunk),
// plus (:Document)-[:HAS_CHUNK]->(:Chunk) for every chunk.
package knowledge

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rotisserie/eris"

	"github.com/fabfab/filing-agent/filing"
)

// Section groups consecutive chunks that share a filing section.
type Section struct {
	ID       string
	Title    string
	Order    int
	ChunkIDs []string
}

type Graph struct {
	driver neo4j.DriverWithContext
}

func NewGraph(driver neo4j.DriverWithContext) *Graph {
	return &Graph{driver: driver}
}

// BuildSections derives section nodes from chunk locations in document order.
// Chunks without a section are attached to the document only.
func BuildSections(documentID string, chunks []filing.Chunk) []Section {
	var sections []Section
	index := map[string]int{}
	for _, c := range chunks {
		title := c.Location.Section
		if title == "" {
			continue
		}
		i, ok := index[title]
		if !ok {
			i = len(sections)
			index[title] = i
			sections = append(sections, Section{
				ID:    fmt.Sprintf("%s#%d", documentID, i),
				Title: title,
				Order: i,
			})
		}
		sections[i].ChunkIDs = append(sections[i].ChunkIDs, c.ID)
	}
	return sections
}

// SyncFiling replaces the graph view of one filing in a single write transaction.
func (g *Graph) SyncFiling(ctx context.Context, company filing.Company, doc filing.Document, chunks []filing.Chunk) error {
	if g == nil || g.driver == nil {
		return eris.New("neo4j driver is nil")
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	ticker := filing.NormalizeTicker(company.Ticker)
	if ticker == "" {
		ticker = doc.Ticker
	}
	params := map[string]any{
		"id":          doc.ID,
		"ticker":      ticker,
		"name":        company.Name,
		"year":        doc.Year,
		"quarter":     doc.Quarter,
		"filing_type": string(doc.FilingType),
		"source_url":  doc.SourceURL,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (co:Company {ticker: $ticker})
			SET co.name = CASE WHEN $name <> '' THEN $name ELSE co.name END
			MERGE (d:Document {id: $id})
			SET d.ticker = $ticker,
			    d.year = $year,
			    d.quarter = $quarter,
			    d.filing_type = $filing_type,
			    d.source_url = $source_url,
			    d.updated_at = datetime()
			MERGE (co)-[:FILED]->(d)
		`, params); err != nil {
			return nil, eris.Wrap(err, "upsert document node")
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_SECTION]->(s:Section)
			DETACH DELETE s
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, eris.Wrap(err, "clear existing sections")
		}

		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $id})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, map[string]any{"id": doc.ID}); err != nil {
			return nil, eris.Wrap(err, "clear existing chunk nodes")
		}

		rows := make([]map[string]any, 0, len(chunks))
		for _, c := range chunks {
			rows = append(rows, map[string]any{
				"id":           c.ID,
				"ordinal":      c.Ordinal,
				"content_type": string(c.ContentType),
				"location":     c.Location.String(),
				"text":         c.Content,
			})
		}
		if _, err := tx.Run(ctx, `
			MATCH (d:Document {id: $doc_id})
			UNWIND $chunks AS row
			CREATE (c:Chunk {id: row.id})
			SET c.ordinal = row.ordinal,
			    c.content_type = row.content_type,
			    c.location = row.location,
			    c.text = row.text
			CREATE (d)-[:HAS_CHUNK {order: row.ordinal}]->(c)
		`, map[string]any{"doc_id": doc.ID, "chunks": rows}); err != nil {
			return nil, eris.Wrap(err, "create chunk nodes")
		}

		for _, section := range BuildSections(doc.ID, chunks) {
			if _, err := tx.Run(ctx, `
				MATCH (d:Document {id: $doc_id})
				CREATE (s:Section {id: $section_id, title: $title, order: $order})
				CREATE (d)-[:HAS_SECTION {order: $order}]->(s)
				WITH s
				MATCH (c:Chunk) WHERE c.id IN $chunk_ids
				CREATE (s)-[:HAS_CHUNK {order: c.ordinal}]->(c)
			`, map[string]any{
				"doc_id":     doc.ID,
				"section_id": section.ID,
				"title":      section.Title,
				"order":      section.Order,
				"chunk_ids":  section.ChunkIDs,
			}); err != nil {
				return nil, eris.Wrapf(err, "create section %q", section.Title)
			}
		}
		return nil, nil
	})
	return err
}

// DocumentInsights returns chunk counts by type and ordered section titles
// for the given documents. Unknown ids are absent from the map.
func (g *Graph) DocumentInsights(ctx context.Context, docIDs []string) (map[string]filing.DocumentInsight, error) {
	if g == nil || g.driver == nil {
		return nil, eris.New("neo4j driver is nil")
	}
	if len(docIDs) == 0 {
		return map[string]filing.DocumentInsight{}, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (d:Document)
		WHERE d.id IN $ids
		OPTIONAL MATCH (d)-[:HAS_CHUNK]->(c:Chunk)
		WITH d,
		     count(DISTINCT c) AS chunkCount,
		     count(DISTINCT CASE WHEN c.content_type = 'table' THEN c END) AS tableCount,
		     count(DISTINCT CASE WHEN c.content_type = 'chart' THEN c END) AS chartCount
		OPTIONAL MATCH (d)-[rel:HAS_SECTION]->(s:Section)
		WITH d, chunkCount, tableCount, chartCount, s, rel
		ORDER BY rel.order
		RETURN d.id AS id,
		       chunkCount,
		       tableCount,
		       chartCount,
		       [t IN collect(s.title) WHERE t IS NOT NULL] AS sections
	`, map[string]any{"ids": docIDs})
	if err != nil {
		return nil, eris.Wrap(err, "run neo4j insights query")
	}

	insights := make(map[string]filing.DocumentInsight, len(docIDs))
	for result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("id")
		docID, ok := id.(string)
		if !ok {
			continue
		}
		chunks, _ := record.Get("chunkCount")
		tables, _ := record.Get("tableCount")
		charts, _ := record.Get("chartCount")
		sections, _ := record.Get("sections")

		insight := filing.DocumentInsight{Sections: convertStringSlice(sections)}
		insight.ChunkCount, _ = toInt(chunks)
		insight.Tables, _ = toInt(tables)
		insight.Charts, _ = toInt(charts)
		insights[docID] = insight
	}
	if err := result.Err(); err != nil {
		return nil, eris.Wrap(err, "neo4j insights result error")
	}
	return insights, nil
}

// Purge removes every node this package manages.
func (g *Graph) Purge(ctx context.Context) error {
	if g == nil || g.driver == nil {
		return eris.New("neo4j driver is nil")
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:Company OR n:Document OR n:Section OR n:Chunk
			DETACH DELETE n
		`, nil)
		return nil, err
	})
	return eris.Wrap(err, "purge graph")
}

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
