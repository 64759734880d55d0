// Package email defines the core mail data model used throughout the archiver.
package email

// Address is a display name paired with an email address, as delivered
// by the mail API. Either field may be empty.
type Address struct {
	Name    string
	Address string
}

// Envelope is a single mailbox message as retrieved from the mail API.
// It is read-only input to the archiving pipeline.
type Envelope struct {
	ID               string
	Subject          string
	BodyHTML         string
	From             *Address
	ToRecipients     []Address
	CcRecipients     []Address
	ReceivedDateTime string
	HasAttachments   bool
}

// Attachment is a binary attachment descriptor. ContentBytes holds the
// base64-encoded payload and is empty until the attachment has been
// physically downloaded.
type Attachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes,omitempty"`
}

// Link is a hyperlink extracted from a message body.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// AttachmentRef is a hyperlink in the message body that points at an
// external file-hosting service. These are distinct from physically
// downloaded attachments.
type AttachmentRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Forward is one hop in a message forwarding chain, reconstructed from
// quoted headers inside the message body.
type Forward struct {
	From string `json:"from"`
	To   string `json:"to"`
	Date string `json:"date"`
}

// Content holds everything extracted from a message body.
type Content struct {
	PlainText           string          `json:"plainText"`
	Links               []Link          `json:"links"`
	AttachmentRefs      []AttachmentRef `json:"attachmentRefs"`
	PhysicalAttachments []Attachment    `json:"physicalAttachments"`
}

// Metadata holds the message envelope fields of a record. Every field
// carries a fallback value; none is ever left empty by the builder.
type Metadata struct {
	From             string    `json:"from"`
	To               string    `json:"to"`
	Cc               []string  `json:"cc,omitempty"`
	ReceivedDateTime string    `json:"receivedDateTime"`
	ForwardChain     []Forward `json:"forwardChain"`
}

// Record is the fully normalized form of a mailbox message, ready for
// durable storage. A Record is always completely populated: the builder
// substitutes fallback values for anything missing from the source.
type Record struct {
	Subject  string   `json:"subject"`
	Content  Content  `json:"content"`
	Metadata Metadata `json:"metadata"`
}
