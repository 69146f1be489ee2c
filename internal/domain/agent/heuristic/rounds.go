package heuristic

import (
	"strings"

	"sourcer/internal/domain/agent/budget"
	"sourcer/internal/domain/agent/ports"
	"sourcer/internal/domain/agent/tools"
	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
)

const (
	hintWeb      = "web"
	hintVideo    = "video"
	hintBilibili = "bilibili"
)

var platformSites = map[string]string{
	intent.PlatformYouTube: "youtube.com",
	intent.PlatformVimeo:   "vimeo.com",
	intent.PlatformTikTok:  "tiktok.com",
	intent.PlatformPexels:  "pexels.com",
	intent.PlatformPixabay: "pixabay.com",
	intent.PlatformDouyin:  "douyin.com",
}

// round is one provider query of a pass.
type round struct {
	name     string
	query    string
	hint     string
	provider ports.SearchProvider
	audio    bool
}

// kindFor classifies a hit. Audio rounds only ever produce links.
func (rd round) kindFor(rawURL string) candidate.Kind {
	if !rd.audio && intent.IsVideoURL(rawURL) {
		return candidate.KindVideo
	}
	return candidate.KindLink
}

// externalSite picks the site used to pin the platform round when the user
// leans away from domestic platforms.
func externalSite(in intent.SearchIntent, allow []string) string {
	for _, p := range in.Platforms {
		if site, ok := platformSites[p]; ok {
			return site
		}
	}
	for _, site := range allow {
		if !intent.IsDomestic(intent.PlatformOf("https://" + site)) {
			return site
		}
	}
	return "youtube.com"
}

// buildRounds derives at most budget.MaxQueryRounds rounds (broad,
// platform-pinned, license or external variant) plus an audio round for
// multi-asset requests. Rounds without a provider are dropped.
func buildRounds(queries []string, in intent.SearchIntent, env *tools.Env) []round {
	if len(queries) == 0 {
		return nil
	}
	q := queries[0]
	q2 := q
	if len(queries) > 1 {
		q2 = queries[1]
	}

	web := env.WebSearch
	video := env.VideoSearch
	var rounds []round
	add := func(r round) {
		if r.provider == nil || strings.TrimSpace(r.query) == "" {
			return
		}
		for _, existing := range rounds {
			if existing.provider == r.provider && strings.EqualFold(existing.query, r.query) {
				return
			}
		}
		rounds = append(rounds, r)
	}

	if web != nil {
		add(round{name: "broad", query: q, hint: hintWeb, provider: web})
	} else {
		add(round{name: "broad", query: q, hint: hintBilibili, provider: video})
	}

	wantsVideo := in.Primary == intent.AssetVideo || in.Video
	switch {
	case wantsVideo && video != nil && in.Preference != intent.PreferExternal:
		add(round{name: "platform", query: q2, hint: hintBilibili, provider: video})
	case wantsVideo:
		add(round{name: "platform", query: "site:" + externalSite(in, env.VideoSites) + " " + q2, hint: hintVideo, provider: web})
	default:
		add(round{name: "platform", query: q2, hint: hintWeb, provider: web})
	}

	switch {
	case in.LicenseQueryTerms() != "":
		add(round{name: "license", query: q + " " + in.LicenseQueryTerms(), hint: hintWeb, provider: web})
	case in.Preference != intent.PreferDomestic && wantsVideo:
		add(round{name: "external", query: "site:" + externalSite(in, env.VideoSites) + " " + q, hint: hintVideo, provider: web})
	case len(queries) > 2:
		add(round{name: "variant", query: queries[2], hint: hintWeb, provider: web})
	}
	if len(rounds) > budget.MaxQueryRounds {
		rounds = rounds[:budget.MaxQueryRounds]
	}

	if in.MultiAsset {
		provider := web
		if provider == nil {
			provider = video
		}
		add(round{name: "audio", query: q + " BGM 背景音乐 免版税", hint: hintWeb, provider: provider, audio: true})
	}
	return rounds
}
