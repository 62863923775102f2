package mastodon

type Application struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Website      string `json:"website"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type Account struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	// Acct is the webfinger account, without the domain for local accounts.
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	// URL is the location of the account's profile page.
	URL string `json:"url"`
}

type Status struct {
	// ID of the status on the instance.
	ID string `json:"id"`
	// URI of the status for federation purposes.
	URI string `json:"uri"`
	// URL of the status' HTML representation.
	URL        string `json:"url"`
	CreatedAt  string `json:"created_at"`
	Content    string `json:"content"`
	Visibility string `json:"visibility"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	CreatedAt   int64  `json:"created_at"`
}
