package llm

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

//----------------------------------------------------------------
// Message - 通用訊息結構
//----------------------------------------------------------------

// Message 表示一條對話訊息
type Message struct {
	Role      string         `json:"role"`    // "user", "assistant", "system"
	Content   []ContentBlock `json:"content"` // 內容區塊陣列
	Timestamp int64          `json:"timestamp,omitempty"`
}

// ContentBlock 表示訊息中的一個內容區塊
type ContentBlock struct {
	Type   string       `json:"type"` // "text", "image"
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource 表示圖片的來源資料
type ImageSource struct {
	Type      string `json:"type"`       // "base64" | "url" | "file"
	MediaType string `json:"media_type"` // "image/jpeg", "image/png", etc.
	Data      []byte `json:"-"`          // 原始位元組資料（序列化為 base64）
	URL       string `json:"url,omitempty"`
	Path      string `json:"path,omitempty"`
}

// MarshalJSON 自訂 JSON 序列化（將 Data 轉為 base64）
func (is *ImageSource) MarshalJSON() ([]byte, error) {
	type Alias ImageSource
	aux := struct {
		DataBase64 string `json:"data,omitempty"`
		*Alias
	}{Alias: (*Alias)(is)}
	if is.Type == "base64" && len(is.Data) > 0 {
		aux.DataBase64 = base64.StdEncoding.EncodeToString(is.Data)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON 自訂 JSON 反序列化（將 base64 轉為 Data）
func (is *ImageSource) UnmarshalJSON(data []byte) error {
	type Alias ImageSource
	aux := &struct {
		DataBase64 string `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(is),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.DataBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(aux.DataBase64)
		if err != nil {
			return err
		}
		is.Data = decoded
	}

	return nil
}

// DataURL returns a URL usable by vision APIs: remote URLs are returned as is,
// inline and local images are encoded as a data: URL.
func (is *ImageSource) DataURL() (string, error) {
	switch is.Type {
	case "url":
		return is.URL, nil
	case "base64":
		return fmt.Sprintf("data:%s;base64,%s", is.MediaType, base64.StdEncoding.EncodeToString(is.Data)), nil
	case "file":
		data, err := os.ReadFile(is.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read image %s: %w", is.Path, err)
		}
		return fmt.Sprintf("data:%s;base64,%s", is.MediaType, base64.StdEncoding.EncodeToString(data)), nil
	default:
		return "", fmt.Errorf("unsupported image source type: %s", is.Type)
	}
}

// Bytes returns the raw image for inline and local sources.
func (is *ImageSource) Bytes() ([]byte, error) {
	switch is.Type {
	case "base64":
		return is.Data, nil
	case "file":
		data, err := os.ReadFile(is.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image %s: %w", is.Path, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("image source %s has no inline data", is.Type)
	}
}

//----------------------------------------------------------------
// Response - 非串流回應
//----------------------------------------------------------------

// Usage 定義通用的用量統計結構
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed chat turn.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason"`
	Usage        *Usage `json:"usage,omitempty"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage 建立純文字訊息
func NewTextMessage(role, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{{
			Type: BlockTypeText,
			Text: text,
		}},
		Timestamp: time.Now().Unix(),
	}
}

// NewSystemMessage 建立系統訊息
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage 建立使用者訊息
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewAssistantMessage 建立助理訊息
func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// AddContentBlock 添加內容區塊到訊息
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent 提取所有文字內容
func (m *Message) GetTextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Images 回傳所有圖片區塊
func (m *Message) Images() []ContentBlock {
	var filtered []ContentBlock
	for _, block := range m.Content {
		if block.Type == BlockTypeImage && block.Source != nil {
			filtered = append(filtered, block)
		}
	}
	return filtered
}

// HasImages 判斷訊息是否包含圖片
func (m *Message) HasImages() bool {
	return len(m.Images()) > 0
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock
//----------------------------------------------------------------

// NewTextBlock 建立文字區塊
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeText,
		Text: text,
	}
}

// NewImageBlock 建立圖片區塊（base64）
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "base64",
			MediaType: mimeType,
			Data:      data,
		},
	}
}

// NewImageBlockFromURL 建立圖片區塊（URL）
func NewImageBlockFromURL(url, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "url",
			MediaType: mimeType,
			URL:       url,
		},
	}
}

// NewImageBlockFromFile 建立圖片區塊（本地檔案）
func NewImageBlockFromFile(path, mimeType string) ContentBlock {
	return ContentBlock{
		Type: BlockTypeImage,
		Source: &ImageSource{
			Type:      "file",
			MediaType: mimeType,
			Path:      path,
		},
	}
}
