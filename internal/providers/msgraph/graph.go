package msgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mikey/mail-sentinel/internal/core"
	"github.com/mikey/mail-sentinel/internal/mailparse"
	"go.uber.org/zap"
)

const (
	graphBase     = "https://graph.microsoft.com/v1.0"
	tokenEndpoint = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// Provider implements the mail provider contract for Microsoft 365
// mailboxes via the Graph REST API. Change notifications arrive as Graph
// subscription webhooks and the mailbox diff uses the messages delta query.
// Requests ask for immutable IDs so a folder move does not change the
// message ref.
type Provider struct {
	clientID         string
	clientSecret     string
	tenant           string
	quarantineFolder string
	client           *http.Client
	logger           *zap.Logger

	mu        sync.Mutex
	folderIDs map[string]string // integration ID -> quarantine folder ID
}

// NewProvider creates a new Microsoft Graph provider adapter
func NewProvider(clientID, clientSecret, tenant, quarantineFolder string, timeout time.Duration, logger *zap.Logger) *Provider {
	if tenant == "" {
		tenant = "common"
	}
	return &Provider{
		clientID:         clientID,
		clientSecret:     clientSecret,
		tenant:           tenant,
		quarantineFolder: quarantineFolder,
		client:           &http.Client{Timeout: timeout},
		logger:           logger,
		folderIDs:        make(map[string]string),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return core.ProviderMSGraph
}

// changePayload is the Graph change-notification webhook body
type changePayload struct {
	ValidationToken string `json:"validationToken"`
	Value           []struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientState    string `json:"clientState"`
		ChangeType     string `json:"changeType"`
		ResourceData   struct {
			ID string `json:"id"`
		} `json:"resourceData"`
	} `json:"value"`
}

// ParseNotification decodes a Graph webhook payload. A subscription
// validation handshake is reported via ValidationToken; the caller must
// echo it back as text/plain.
func (p *Provider) ParseNotification(payload []byte) (*core.Notification, error) {
	var body changePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to decode graph notification: %w", err))
	}

	if body.ValidationToken != "" {
		return &core.Notification{
			Provider:        core.ProviderMSGraph,
			ValidationToken: body.ValidationToken,
		}, nil
	}
	if len(body.Value) == 0 {
		return nil, core.MalformedError(fmt.Errorf("graph notification has no value entries"))
	}

	// A batch always targets one subscription; Graph does not mix them.
	first := body.Value[0]
	if first.SubscriptionID == "" {
		return nil, core.MalformedError(fmt.Errorf("graph notification has no subscription id"))
	}

	return &core.Notification{
		Provider:       core.ProviderMSGraph,
		SubscriptionID: first.SubscriptionID,
		ClientState:    first.ClientState,
	}, nil
}

type deltaResponse struct {
	Value []struct {
		ID string `json:"id"`
	} `json:"value"`
	NextLink  string `json:"@odata.nextLink"`
	DeltaLink string `json:"@odata.deltaLink"`
}

// DiffSince lists message refs added since the stored delta cursor. An
// empty cursor starts a fresh delta round: existing messages are drained
// without being reported, establishing a baseline.
func (p *Provider) DiffSince(ctx context.Context, conn *core.IntegrationConnection, cursor string) ([]string, string, error) {
	baseline := cursor == ""
	next := cursor
	if baseline {
		next = graphBase + "/me/mailFolders/inbox/messages/delta?$select=id"
	}

	var refs []string
	for {
		var resp deltaResponse
		if err := p.get(ctx, conn, next, &resp); err != nil {
			return nil, "", err
		}

		if !baseline {
			for _, v := range resp.Value {
				refs = append(refs, v.ID)
			}
		}

		if resp.DeltaLink != "" {
			return refs, resp.DeltaLink, nil
		}
		if resp.NextLink == "" {
			return nil, "", core.TransientError(fmt.Errorf("delta response has neither next nor delta link"))
		}
		next = resp.NextLink
	}
}

// FetchMessage retrieves the message's MIME content and parses it
func (p *Provider) FetchMessage(ctx context.Context, conn *core.IntegrationConnection, ref string) (*core.Email, error) {
	raw, err := p.getRaw(ctx, conn, fmt.Sprintf("%s/me/messages/%s/$value", graphBase, url.PathEscape(ref)))
	if err != nil {
		return nil, err
	}

	email, err := mailparse.ParseRaw(raw)
	if err != nil {
		return nil, core.MalformedError(fmt.Errorf("failed to parse message %s: %w", ref, err))
	}
	email.MessageID = ref
	return email, nil
}

// Quarantine moves the message into the quarantine folder
func (p *Provider) Quarantine(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	folderID, err := p.ensureQuarantineFolder(ctx, conn)
	if err != nil {
		return err
	}
	return p.move(ctx, conn, ref, folderID)
}

// Restore moves a quarantined message back to the inbox
func (p *Provider) Restore(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	return p.move(ctx, conn, ref, "inbox")
}

// Delete permanently removes the message
func (p *Provider) Delete(ctx context.Context, conn *core.IntegrationConnection, ref string) error {
	req, err := p.newRequest(ctx, conn, http.MethodDelete,
		fmt.Sprintf("%s/me/messages/%s", graphBase, url.PathEscape(ref)), nil)
	if err != nil {
		return err
	}
	return p.do(req, nil)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshCredentials exchanges the refresh token for a new access token
func (p *Provider) RefreshCredentials(ctx context.Context, conn *core.IntegrationConnection) (string, int64, error) {
	form := url.Values{
		"client_id":     {p.clientID},
		"client_secret": {p.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
		"scope":         {"https://graph.microsoft.com/.default offline_access"},
	}

	endpoint := fmt.Sprintf(tokenEndpoint, p.tenant)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, core.TransientError(fmt.Errorf("token request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", 0, core.TransientError(fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body))
		}
		return "", 0, core.CredentialError(fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	return token.AccessToken, time.Now().Unix() + token.ExpiresIn, nil
}

func (p *Provider) move(ctx context.Context, conn *core.IntegrationConnection, ref, destinationID string) error {
	body := fmt.Sprintf(`{"destinationId":%q}`, destinationID)
	req, err := p.newRequest(ctx, conn, http.MethodPost,
		fmt.Sprintf("%s/me/messages/%s/move", graphBase, url.PathEscape(ref)), strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req, nil)
}

type folderList struct {
	Value []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"value"`
}

// ensureQuarantineFolder finds or creates the quarantine folder, caching
// its ID per integration
func (p *Provider) ensureQuarantineFolder(ctx context.Context, conn *core.IntegrationConnection) (string, error) {
	p.mu.Lock()
	if id, ok := p.folderIDs[conn.ID]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	var folders folderList
	listURL := fmt.Sprintf("%s/me/mailFolders?$filter=displayName eq '%s'", graphBase, url.QueryEscape(p.quarantineFolder))
	if err := p.get(ctx, conn, listURL, &folders); err != nil {
		return "", err
	}
	for _, f := range folders.Value {
		if f.DisplayName == p.quarantineFolder {
			p.cacheFolderID(conn.ID, f.ID)
			return f.ID, nil
		}
	}

	body := fmt.Sprintf(`{"displayName":%q,"isHidden":false}`, p.quarantineFolder)
	req, err := p.newRequest(ctx, conn, http.MethodPost, graphBase+"/me/mailFolders", strings.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var created struct {
		ID string `json:"id"`
	}
	if err := p.do(req, &created); err != nil {
		return "", err
	}
	p.cacheFolderID(conn.ID, created.ID)
	return created.ID, nil
}

func (p *Provider) cacheFolderID(integrationID, folderID string) {
	p.mu.Lock()
	p.folderIDs[integrationID] = folderID
	p.mu.Unlock()
}

func (p *Provider) newRequest(ctx context.Context, conn *core.IntegrationConnection, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	req.Header.Set("Prefer", `IdType="ImmutableId"`)
	return req, nil
}

func (p *Provider) get(ctx context.Context, conn *core.IntegrationConnection, u string, out any) error {
	req, err := p.newRequest(ctx, conn, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *Provider) getRaw(ctx context.Context, conn *core.IntegrationConnection, u string) ([]byte, error) {
	req, err := p.newRequest(ctx, conn, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, core.TransientError(fmt.Errorf("graph request failed: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

func (p *Provider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return core.TransientError(fmt.Errorf("graph request failed: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode graph response: %w", err)
	}
	return nil
}

// classifyStatus maps Graph API failures onto the retry taxonomy at the
// point of observation
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.CredentialError(fmt.Errorf("graph returned %d for %s", resp.StatusCode, resp.Request.URL.Path))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return core.TransientError(fmt.Errorf("graph returned %d for %s", resp.StatusCode, resp.Request.URL.Path))
	default:
		return core.TerminalError(fmt.Errorf("graph returned %d for %s", resp.StatusCode, resp.Request.URL.Path))
	}
}
