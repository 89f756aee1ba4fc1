// Package aggregator computes how well a view covers the requested segments.
package aggregator

import "view-aspects-go/internal/types"

type Coverage struct {
	ReferencesByAspect map[string]int `json:"references_by_aspect"`
	SegmentsCited      int            `json:"segments_cited"`
	// CitedRate is SegmentsCited over the requested segment count.
	CitedRate float64 `json:"cited_rate"`
	// Uncited lists the aspects without any reference, in view order.
	Uncited []string `json:"uncited"`
}

func Aggregate(v *types.View, requested int) Coverage {
	refs := map[string]int{}
	cited := map[int]bool{}
	var uncited []string
	for _, a := range v.Aspects {
		refs[a.Title] += len(a.Segments)
		if len(a.Segments) == 0 {
			uncited = append(uncited, a.Title)
		}
		for _, s := range a.Segments {
			cited[s.ID] = true
		}
	}
	rate := 0.0
	if requested > 0 {
		rate = float64(len(cited)) / float64(requested)
	}
	return Coverage{ReferencesByAspect: refs, SegmentsCited: len(cited), CitedRate: rate, Uncited: uncited}
}
