package anthropic

// BuildCachedSystemBlocks constructs a system block with a 1h cache breakpoint.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}
