// Package graph implements a read-side client for the Microsoft Graph
// mail API: listing mailbox users, paging through messages, downloading
// attachments, and toggling read state.
package graph

import "github.com/shineum/mail-archiver/internal/email"

// User is a mailbox user as returned by the directory listing.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// userListResponse is one page of a /users listing.
type userListResponse struct {
	Value    []User `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// emailAddressResource is a name/address pair in a Graph message.
type emailAddressResource struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// recipientResource wraps an email address the way Graph nests it.
type recipientResource struct {
	EmailAddress emailAddressResource `json:"emailAddress"`
}

// messageBodyResource is the body portion of a Graph message.
type messageBodyResource struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// messageResource is a single message in a Graph mailbox listing.
type messageResource struct {
	ID               string              `json:"id"`
	Subject          string              `json:"subject"`
	Body             messageBodyResource `json:"body"`
	From             *recipientResource  `json:"from"`
	ToRecipients     []recipientResource `json:"toRecipients"`
	CcRecipients     []recipientResource `json:"ccRecipients"`
	ReceivedDateTime string              `json:"receivedDateTime"`
	HasAttachments   bool                `json:"hasAttachments"`
	IsRead           bool                `json:"isRead"`
}

// messageListResponse is one page of a mailbox message listing.
type messageListResponse struct {
	Value    []messageResource `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// attachmentResource is a file attachment in a Graph message.
type attachmentResource struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

// attachmentListResponse is the attachment listing of one message.
type attachmentListResponse struct {
	Value []attachmentResource `json:"value"`
}

// readStatePatch is the PATCH body used to toggle a message's read flag.
type readStatePatch struct {
	IsRead bool `json:"isRead"`
}

// envelopeFromResource maps a Graph message resource onto the archiver's
// envelope type.
func envelopeFromResource(m messageResource) email.Envelope {
	env := email.Envelope{
		ID:               m.ID,
		Subject:          m.Subject,
		BodyHTML:         m.Body.Content,
		ReceivedDateTime: m.ReceivedDateTime,
		HasAttachments:   m.HasAttachments,
	}

	if m.From != nil {
		env.From = &email.Address{
			Name:    m.From.EmailAddress.Name,
			Address: m.From.EmailAddress.Address,
		}
	}
	for _, r := range m.ToRecipients {
		env.ToRecipients = append(env.ToRecipients, email.Address{
			Name:    r.EmailAddress.Name,
			Address: r.EmailAddress.Address,
		})
	}
	for _, r := range m.CcRecipients {
		env.CcRecipients = append(env.CcRecipients, email.Address{
			Name:    r.EmailAddress.Name,
			Address: r.EmailAddress.Address,
		})
	}

	return env
}

// attachmentFromResource maps a Graph attachment resource onto the
// archiver's attachment descriptor.
func attachmentFromResource(a attachmentResource) email.Attachment {
	return email.Attachment{
		ID:           a.ID,
		Name:         a.Name,
		ContentType:  a.ContentType,
		Size:         a.Size,
		ContentBytes: a.ContentBytes,
	}
}
