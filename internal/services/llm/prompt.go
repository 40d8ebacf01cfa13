package llm

// CaptionPrompt instructs the model to rewrite source text as a platform caption.
const CaptionPrompt = `You write social media captions.
Rewrite the source text as a caption for the named platform.
Keep the meaning and any links. Respect the maximum caption length and hashtag count when given.
Put hashtags in the "hashtags" array, not in the caption.
Respond with JSON only: {"caption": "...", "hashtags": ["#tag", ...]}`
