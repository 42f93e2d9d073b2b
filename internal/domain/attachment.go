package domain

// Attachment 是服务商返回的附件元数据，仅做透传。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}
