package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// bundled BPE ranks, so counting never downloads
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// tokenCounter estimates token counts for providers whose streams do not
// report usage. A model without a known encoding counts as zero.
type tokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func newTokenCounter(model string) *tokenCounter {
	return &tokenCounter{model: model}
}

func (tc *tokenCounter) count(text string) int {
	if text == "" {
		return 0
	}
	tc.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(tc.model)
		if err == nil {
			tc.enc = enc
		}
	})
	if tc.enc == nil {
		return 0
	}
	return len(tc.enc.Encode(text, nil, nil))
}
