package models

import "time"

// CommentResponse is the public representation of a comment. The stored blob
// key is replaced by a resolvable URL.
type CommentResponse struct {
	ID                    uint      `json:"id"`
	User                  *uint     `json:"user"`
	UserName              string    `json:"user_name"`
	Email                 string    `json:"email"`
	HomePage              *string   `json:"home_page"`
	Text                  string    `json:"text"`
	Parent                *uint     `json:"parent"`
	CreatedAt             time.Time `json:"created_at"`
	Score                 int       `json:"score"`
	UserVote              int       `json:"user_vote"`
	IsBookmarked          bool      `json:"is_bookmarked"`
	AttachmentURL         *string   `json:"attachment_url"`
	AttachmentName        string    `json:"attachment_name"`
	AttachmentType        string    `json:"attachment_type"`
	AttachmentSize        int64     `json:"attachment_size"`
	AttachmentWidth       int       `json:"attachment_width"`
	AttachmentHeight      int       `json:"attachment_height"`
	AttachmentTextPreview string    `json:"attachment_text_preview"`
}

// NewCommentResponse renders v. Attachment fields are always present, as
// empty strings and zeros when absent or not applicable. resolveURL turns a
// blob key into a URL and may be nil when no URLs can be produced.
func NewCommentResponse(v *CommentView, resolveURL func(key string) string) *CommentResponse {
	resp := &CommentResponse{
		ID:           v.ID,
		User:         v.UserID,
		UserName:     v.UserName,
		Email:        v.Email,
		HomePage:     v.HomePage,
		Text:         v.Text,
		Parent:       v.ParentID,
		CreatedAt:    v.CreatedAt,
		Score:        v.Score,
		UserVote:     v.UserVote,
		IsBookmarked: v.IsBookmarked,
	}
	if v.Attachment.IsZero() {
		return resp
	}

	resp.AttachmentName = v.Attachment.Name
	resp.AttachmentType = v.Attachment.Type
	resp.AttachmentSize = v.Attachment.Size
	resp.AttachmentWidth = v.Attachment.Width
	resp.AttachmentHeight = v.Attachment.Height
	resp.AttachmentTextPreview = v.Attachment.TextPreview
	if resolveURL != nil {
		url := resolveURL(v.Attachment.File)
		resp.AttachmentURL = &url
	}
	return resp
}

// NewCommentResponses renders a listing in order.
func NewCommentResponses(views []*CommentView, resolveURL func(key string) string) []*CommentResponse {
	out := make([]*CommentResponse, 0, len(views))
	for _, v := range views {
		out = append(out, NewCommentResponse(v, resolveURL))
	}
	return out
}
