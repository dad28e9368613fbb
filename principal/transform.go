package principal

// Transform is applied to a freshly derived Principal after every successful
// exchange, both at login and on silent refresh.
type Transform func(p *Principal, accessToken string) *Principal

// AttachAccessToken exposes the current access token as the access_token
// claim so that downstream API calls can read it from the principal.
func AttachAccessToken(p *Principal, accessToken string) *Principal {
	if accessToken == "" {
		return p
	}
	return p.With(ClaimAccessToken, accessToken)
}

// Chain runs transforms in order.
func Chain(transforms ...Transform) Transform {
	return func(p *Principal, accessToken string) *Principal {
		for _, t := range transforms {
			if t != nil {
				p = t(p, accessToken)
			}
		}
		return p
	}
}
