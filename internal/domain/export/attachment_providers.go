package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coverloop/coverloop/internal/domain/events"
)

// attachmentProvider is the shared runtime for all attachment families: an
// optional inclusion condition plus a fetch function. Excluded attachments
// are never fetched.
type attachmentProvider struct {
	include Condition
	fetch   func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error)
}

func (p *attachmentProvider) IsIncluded(ctx context.Context, ev *events.ApplicationEvent) (bool, error) {
	if p.include == nil {
		return true, nil
	}
	res, err := p.include.Evaluate(ctx, ev)
	if err != nil {
		return false, err
	}
	return res.Matched, nil
}

func (p *attachmentProvider) Invoke(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
	return p.fetch(ctx, ev)
}

func buildIncludeCondition(b ConditionBuilder, deps Dependencies, product ProductConfig) (Condition, error) {
	if b == nil {
		return nil, nil
	}
	return b.Build(deps, product)
}

// DocumentAttachmentBuilder renders a template into a generated document.
type DocumentAttachmentBuilder struct {
	Name        string `json:"Name"`
	Template    string `json:"Template"`
	ContentType string `json:"ContentType"`
	IncludeWhen ConditionBuilder
}

func decodeDocumentAttachment(r *Registries, raw json.RawMessage) (*DocumentAttachmentBuilder, error) {
	var spec struct {
		Name        string          `json:"Name"`
		Template    string          `json:"Template"`
		ContentType string          `json:"ContentType"`
		IncludeWhen json.RawMessage `json:"IncludeWhen"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("document attachment provider: %w", err)
	}
	if spec.Name == "" || spec.Template == "" {
		return nil, errors.New("document attachment provider: Name and Template are required")
	}
	include, err := r.DecodeConditionSlot(spec.IncludeWhen)
	if err != nil {
		return nil, fmt.Errorf("document attachment provider: IncludeWhen: %w", err)
	}
	return &DocumentAttachmentBuilder{
		Name:        spec.Name,
		Template:    spec.Template,
		ContentType: spec.ContentType,
		IncludeWhen: include,
	}, nil
}

func (b *DocumentAttachmentBuilder) Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error) {
	if deps.Renderer == nil {
		return nil, errors.New("document attachment provider: renderer not configured")
	}
	include, err := buildIncludeCondition(b.IncludeWhen, deps, product)
	if err != nil {
		return nil, fmt.Errorf("document attachment provider: IncludeWhen: %w", err)
	}

	renderer := deps.Renderer
	forms := deps.Forms
	name, source := b.Name, b.Template
	contentType := b.ContentType
	if contentType == "" {
		contentType = "text/html"
	}
	return &attachmentProvider{
		include: include,
		fetch: func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
			data := map[string]any{
				"Event":     ev,
				"Product":   product,
				"Variables": product.Variables,
			}
			if forms != nil {
				formData, err := forms.LatestFormData(ctx, ev.EntityID)
				if err != nil {
					return Attachment{}, fmt.Errorf("document attachment %q: form data: %w", name, err)
				}
				data["FormData"] = formData
			}
			out, err := renderer.Render(ctx, source, data)
			if err != nil {
				return Attachment{}, fmt.Errorf("document attachment %q: %w", name, err)
			}
			return Attachment{Name: name, ContentType: contentType, Content: []byte(out)}, nil
		},
	}, nil
}

// FileAttachmentBuilder attaches a stored file by id.
type FileAttachmentBuilder struct {
	FileID      string `json:"FileId"`
	IncludeWhen ConditionBuilder
}

func decodeFileAttachment(r *Registries, raw json.RawMessage) (*FileAttachmentBuilder, error) {
	var spec struct {
		FileID      string          `json:"FileId"`
		IncludeWhen json.RawMessage `json:"IncludeWhen"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("file attachment provider: %w", err)
	}
	if spec.FileID == "" {
		return nil, errors.New("file attachment provider: FileId is required")
	}
	include, err := r.DecodeConditionSlot(spec.IncludeWhen)
	if err != nil {
		return nil, fmt.Errorf("file attachment provider: IncludeWhen: %w", err)
	}
	return &FileAttachmentBuilder{FileID: spec.FileID, IncludeWhen: include}, nil
}

func (b *FileAttachmentBuilder) Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error) {
	if deps.Files == nil {
		return nil, errors.New("file attachment provider: file store not configured")
	}
	include, err := buildIncludeCondition(b.IncludeWhen, deps, product)
	if err != nil {
		return nil, fmt.Errorf("file attachment provider: IncludeWhen: %w", err)
	}
	files := deps.Files
	fileID := b.FileID
	return &attachmentProvider{
		include: include,
		fetch: func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
			att, err := files.GetFile(ctx, fileID)
			if err != nil {
				return Attachment{}, fmt.Errorf("file attachment %q: %w", fileID, err)
			}
			return att, nil
		},
	}, nil
}

// ExistingDocumentAttachmentBuilder attaches a document already generated
// for the quote.
type ExistingDocumentAttachmentBuilder struct {
	DocumentID  string `json:"DocumentId"`
	IncludeWhen ConditionBuilder
}

func decodeExistingDocumentAttachment(r *Registries, raw json.RawMessage) (*ExistingDocumentAttachmentBuilder, error) {
	var spec struct {
		DocumentID  string          `json:"DocumentId"`
		IncludeWhen json.RawMessage `json:"IncludeWhen"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("existing document attachment provider: %w", err)
	}
	if spec.DocumentID == "" {
		return nil, errors.New("existing document attachment provider: DocumentId is required")
	}
	include, err := r.DecodeConditionSlot(spec.IncludeWhen)
	if err != nil {
		return nil, fmt.Errorf("existing document attachment provider: IncludeWhen: %w", err)
	}
	return &ExistingDocumentAttachmentBuilder{DocumentID: spec.DocumentID, IncludeWhen: include}, nil
}

func (b *ExistingDocumentAttachmentBuilder) Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error) {
	if deps.Files == nil {
		return nil, errors.New("existing document attachment provider: file store not configured")
	}
	include, err := buildIncludeCondition(b.IncludeWhen, deps, product)
	if err != nil {
		return nil, fmt.Errorf("existing document attachment provider: IncludeWhen: %w", err)
	}
	files := deps.Files
	documentID := b.DocumentID
	return &attachmentProvider{
		include: include,
		fetch: func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
			att, err := files.GetDocument(ctx, ev.EntityID, documentID)
			if err != nil {
				return Attachment{}, fmt.Errorf("existing document attachment %q: %w", documentID, err)
			}
			return att, nil
		},
	}, nil
}

// UploadAttachmentBuilder attaches a customer upload referenced by a form
// field.
type UploadAttachmentBuilder struct {
	FieldName   string `json:"FieldName"`
	IncludeWhen ConditionBuilder
}

func decodeUploadAttachment(r *Registries, raw json.RawMessage) (*UploadAttachmentBuilder, error) {
	var spec struct {
		FieldName   string          `json:"FieldName"`
		IncludeWhen json.RawMessage `json:"IncludeWhen"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("upload attachment provider: %w", err)
	}
	if spec.FieldName == "" {
		return nil, errors.New("upload attachment provider: FieldName is required")
	}
	include, err := r.DecodeConditionSlot(spec.IncludeWhen)
	if err != nil {
		return nil, fmt.Errorf("upload attachment provider: IncludeWhen: %w", err)
	}
	return &UploadAttachmentBuilder{FieldName: spec.FieldName, IncludeWhen: include}, nil
}

func (b *UploadAttachmentBuilder) Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error) {
	if deps.Files == nil {
		return nil, errors.New("upload attachment provider: file store not configured")
	}
	include, err := buildIncludeCondition(b.IncludeWhen, deps, product)
	if err != nil {
		return nil, fmt.Errorf("upload attachment provider: IncludeWhen: %w", err)
	}
	files := deps.Files
	field := b.FieldName
	return &attachmentProvider{
		include: include,
		fetch: func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
			att, err := files.GetUpload(ctx, ev.EntityID, field)
			if err != nil {
				return Attachment{}, fmt.Errorf("upload attachment %q: %w", field, err)
			}
			return att, nil
		},
	}, nil
}

// TextAttachmentBuilder attaches the output of a text provider as a file.
type TextAttachmentBuilder struct {
	Name        string `json:"Name"`
	ContentType string `json:"ContentType"`
	Content     TextProviderBuilder
	IncludeWhen ConditionBuilder
}

func decodeTextAttachment(r *Registries, raw json.RawMessage) (*TextAttachmentBuilder, error) {
	var spec struct {
		Name        string          `json:"Name"`
		ContentType string          `json:"ContentType"`
		Content     json.RawMessage `json:"Content"`
		IncludeWhen json.RawMessage `json:"IncludeWhen"`
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("text attachment provider: %w", err)
	}
	if spec.Name == "" {
		return nil, errors.New("text attachment provider: Name is required")
	}
	content, err := r.DecodeTextSlot(spec.Content)
	if err != nil {
		return nil, fmt.Errorf("text attachment provider: Content: %w", err)
	}
	if content == nil {
		return nil, errors.New("text attachment provider: Content is required")
	}
	include, err := r.DecodeConditionSlot(spec.IncludeWhen)
	if err != nil {
		return nil, fmt.Errorf("text attachment provider: IncludeWhen: %w", err)
	}
	return &TextAttachmentBuilder{
		Name:        spec.Name,
		ContentType: spec.ContentType,
		Content:     content,
		IncludeWhen: include,
	}, nil
}

func (b *TextAttachmentBuilder) Build(deps Dependencies, product ProductConfig) (AttachmentProvider, error) {
	include, err := buildIncludeCondition(b.IncludeWhen, deps, product)
	if err != nil {
		return nil, fmt.Errorf("text attachment provider: IncludeWhen: %w", err)
	}
	content, err := b.Content.Build(deps, product)
	if err != nil {
		return nil, fmt.Errorf("text attachment provider: Content: %w", err)
	}
	name := b.Name
	contentType := b.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	return &attachmentProvider{
		include: include,
		fetch: func(ctx context.Context, ev *events.ApplicationEvent) (Attachment, error) {
			out, err := content.Invoke(ctx, ev)
			if err != nil {
				return Attachment{}, fmt.Errorf("text attachment %q: %w", name, err)
			}
			return Attachment{Name: name, ContentType: contentType, Content: []byte(out)}, nil
		},
	}, nil
}
