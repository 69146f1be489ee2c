package candidate

import "sourcer/internal/shared/jsonx"

const (
	BlockVideos = "videos"
	BlockLinks  = "links"
)

// VideoCard is the presentation form of a video candidate.
type VideoCard struct {
	ID              string   `json:"id"`
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Snippet         string   `json:"snippet,omitempty"`
	Thumbnail       string   `json:"thumbnail,omitempty"`
	DurationSeconds int      `json:"duration_seconds,omitempty"`
	Source          string   `json:"source,omitempty"`
	Score           *float64 `json:"score,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// LinkCard is the presentation form of a link candidate.
type LinkCard struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet,omitempty"`
	Source  string   `json:"source,omitempty"`
	Score   *float64 `json:"score,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Block is one ordered presentation unit.
type Block struct {
	Type   string      `json:"type"`
	Videos []VideoCard `json:"videos,omitempty"`
	Links  []LinkCard  `json:"links,omitempty"`
}

func displayTitle(c Candidate) string {
	if c.Title != "" {
		return c.Title
	}
	return c.URL
}

// BuildBlocks renders a videos block then a links block, omitting empty ones.
func BuildBlocks(videos, links []Candidate) []Block {
	var blocks []Block
	if len(videos) > 0 {
		cards := make([]VideoCard, 0, len(videos))
		for _, c := range videos {
			cards = append(cards, VideoCard{
				ID: c.ID, URL: c.URL, Title: displayTitle(c), Snippet: c.Snippet,
				Thumbnail: c.Thumbnail, DurationSeconds: c.DurationSeconds, Source: c.Source,
				Score: c.Score, Tags: c.Tags, Reason: c.Reason,
			})
		}
		blocks = append(blocks, Block{Type: BlockVideos, Videos: cards})
	}
	if len(links) > 0 {
		cards := make([]LinkCard, 0, len(links))
		for _, c := range links {
			cards = append(cards, LinkCard{
				ID: c.ID, URL: c.URL, Title: displayTitle(c), Snippet: c.Snippet,
				Source: c.Source, Score: c.Score, Tags: c.Tags, Reason: c.Reason,
			})
		}
		blocks = append(blocks, Block{Type: BlockLinks, Links: cards})
	}
	return blocks
}

// BlocksData wraps blocks as the opaque chat message payload.
func BlocksData(blocks []Block) map[string]any {
	if blocks == nil {
		blocks = []Block{}
	}
	return map[string]any{"blocks": blocks}
}

// BlocksFromData decodes blocks from a chat message payload, whether it was
// built in-process or decoded from JSON.
func BlocksFromData(data map[string]any) []Block {
	raw, ok := data["blocks"]
	if !ok || raw == nil {
		return nil
	}
	if blocks, ok := raw.([]Block); ok {
		return blocks
	}
	encoded, err := jsonx.Marshal(raw)
	if err != nil {
		return nil
	}
	var blocks []Block
	if err := jsonx.Unmarshal(encoded, &blocks); err != nil {
		return nil
	}
	return blocks
}

// URLs lists every card url in blocks.
func URLs(blocks []Block) []string {
	var out []string
	for _, b := range blocks {
		for _, v := range b.Videos {
			out = append(out, v.URL)
		}
		for _, l := range b.Links {
			out = append(out, l.URL)
		}
	}
	return out
}
