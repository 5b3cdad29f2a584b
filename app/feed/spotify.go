package feed

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// Spotify is a list of top tracks of an artist. The data api requires a bearer token,
// obtained with client credentials flow in ResolveKey.
type Spotify struct {
	Descriptor
	Client    *http.Client
	TokenURL  string
	SearchURL string // artist search template with {feed}
}

// NewSpotify makes spotify artist source, apiKey is "client_id:client_secret"
func NewSpotify(apiKey string, client *http.Client) *Spotify {
	return &Spotify{
		Descriptor: Descriptor{
			SourceID:   "sp",
			SourceName: "Spotify",
			IconURL:    "https://open.spotifycdn.com/cdn/images/favicon32.b64ecc03.png",
			FeedTmpl:   "https://open.spotify.com/artist/{feed}",
			ItemTmpl:   "https://open.spotify.com/track/{item}",
			DataTmpl:   "https://api.spotify.com/v1/artists/{feed}/top-tracks?country=ES",
			APIKey:     apiKey,
		},
		Client:    client,
		TokenURL:  "https://accounts.spotify.com/api/token",
		SearchURL: "https://api.spotify.com/v1/search?q={feed}&type=artist&limit=1",
	}
}

// ResolveKey gets access token and searches artist id by name. If nothing found the key
// is used as artist id as is.
func (s *Spotify) ResolveKey(ctx context.Context, key string) (http.Header, string, error) {
	headers, err := s.DataHeaders(ctx)
	if err != nil {
		return nil, "", err
	}

	searchURL := strings.Replace(s.SearchURL, "{feed}", Quote(key), 1)
	body, err := getBody(ctx, s.Client, searchURL, headers)
	if err != nil {
		return nil, "", err
	}
	defer body.Close() // nolint

	var resp struct {
		Artists struct {
			Items []struct {
				ID string `json:"id"`
			} `json:"items"`
		} `json:"artists"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, "", keyError(key, "malformed search response")
	}
	if len(resp.Artists.Items) == 0 || resp.Artists.Items[0].ID == "" {
		return headers, key, nil
	}
	return headers, resp.Artists.Items[0].ID, nil
}

// DataHeaders gets access token and returns bearer authorization for data requests
func (s *Spotify) DataHeaders(ctx context.Context) (http.Header, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	return headers, nil
}

func (s *Spotify) token(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "can't make token request")
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.APIKey)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := send(s.Client, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.AccessToken == "" {
		return "", parsingError("Could not parse token response")
	}
	return tok.AccessToken, nil
}

type spotifyTrack struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	PreviewURL *string `json:"preview_url"`
	Album      *struct {
		Name         *string `json:"name"`
		ExternalURLs *struct {
			Spotify *string `json:"spotify"`
		} `json:"external_urls"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
}

// Parse extracts artist name and tracks from top-tracks json
func (s *Spotify) Parse(r io.Reader) (*Result, error) {
	var doc struct {
		Tracks []spotifyTrack `json:"tracks"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, parsingError("Could not parse data")
	}
	if len(doc.Tracks) == 0 {
		return nil, parsingError("Feed has no items")
	}

	tracks := make([]record, 0, len(doc.Tracks))
	for _, t := range doc.Tracks {
		rec := record{"id": t.ID, "name": t.Name, "description": trackDescription(t)}
		if t.Album != nil && len(t.Album.Images) > 0 {
			rec["image"] = t.Album.Images[0].URL
		}
		tracks = append(tracks, rec)
	}

	title := ""
	if first := doc.Tracks[0]; len(first.Artists) > 0 {
		title = first.Artists[0].Name
	}

	complete := func(t record) bool { return t.filled("id", "name") && t.present("description", "image") }
	if err := validate(title, tracks, complete); err != nil {
		return nil, err
	}

	res := &Result{Title: title, Items: make([]Item, 0, len(tracks))}
	for _, t := range tracks {
		res.Items = append(res.Items, Item{Key: t["id"], Title: t["name"], Description: t["description"], Picture: t["image"]})
	}
	return res, nil
}

// trackDescription makes html snippet with album link and audio preview,
// empty if album details are missing
func trackDescription(t spotifyTrack) string {
	if t.Album == nil || t.Album.Name == nil || t.Album.ExternalURLs == nil || t.Album.ExternalURLs.Spotify == nil {
		return ""
	}
	res := fmt.Sprintf("<p>Song from album <a href='%s'>%s</a></p>",
		html.EscapeString(*t.Album.ExternalURLs.Spotify), html.EscapeString(*t.Album.Name))
	if t.PreviewURL != nil && *t.PreviewURL != "" {
		res += fmt.Sprintf("<audio controls><source src='%s' type='audio/mp3'></audio>", html.EscapeString(*t.PreviewURL))
	}
	return res
}
