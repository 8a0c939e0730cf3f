package classifier

// Prompt versions participate in the classification cache key, so any
// edit here must bump the matching version to invalidate stale entries.
const (
	FrameworkPromptVersion  = "framework-v1"
	CommitmentPromptVersion = "commitment-v1"
)

// frameworkSystem is the pass-1 system prompt: decide whether a page
// describes a top-level bilateral technology framework and extract it.
// Static text, sent as a cacheable system block.
const frameworkSystem = `You are extracting structured deal data from a US government document about bilateral technology partnerships.

The user message contains the page content.

INSTRUCTIONS:
1. Determine if the page describes a top-level US bilateral technology/trade framework agreement with the United Kingdom, Japan, or South Korea.
2. If YES, extract the framework info.
3. If NO, return {"is_relevant": false}

Return a JSON object with this exact structure:
{
  "is_relevant": true,
  "framework": {
    "title": "Short deal title",
    "summary": "One clear sentence describing the deal (max 200 chars)",
    "country_code": "GBR|JPN|KOR",
    "date_signed": "YYYY-MM-DD or null",
    "signatories": ["Name 1", "Name 2"],
    "sectors": ["AI", "Nuclear Energy"],
    "total_value_usd": integer or null,
    "status": "ACTIVE|PENDING|COMPLETED"
  }
}

IMPORTANT:
- Convert dollar values to integers (e.g., "$36.2 billion" -> 36200000000)
- Use country codes: GBR (UK), JPN (Japan), KOR (South Korea)
- If a detail is not mentioned, use null
- Return ONLY the JSON, no markdown or explanation`

// commitmentSystem is the pass-2 system prompt: extract the individual
// corporate commitments a page mentions. It names no framework
// identifiers; linking happens at assembly from the returned country.
const commitmentSystem = `You are extracting corporate investment commitments from a US government document about bilateral technology partnerships.

The user message contains the page content.

INSTRUCTIONS:
1. Find every individual corporate commitment the page mentions: investments, purchases, partnerships.
2. Report the watchlist country the commitments relate to.
3. If the page mentions no corporate commitments, return {"country_code": null, "commitments": []}

Return a JSON object with this exact structure:
{
  "country_code": "GBR|JPN|KOR",
  "commitments": [
    {
      "title": "Short commitment title",
      "summary": "One sentence (max 150 chars)",
      "parties": ["Company A", "Company B"],
      "deal_value_usd": integer or null,
      "sector": "Aviation & Defense",
      "commitment_details": "Brief details of the commitment",
      "status": "ACTIVE|PENDING|COMPLETED"
    }
  ]
}

IMPORTANT:
- Extract ALL individual corporate commitments mentioned
- Convert dollar values to integers (e.g., "$36.2 billion" -> 36200000000)
- Use country codes: GBR (UK), JPN (Japan), KOR (South Korea)
- If a dollar amount is not stated, deal_value_usd must be null, never 0
- Return ONLY the JSON, no markdown or explanation`
