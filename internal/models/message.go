package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

type SenderModel string

const (
	SenderStudent SenderModel = "Student"
	SenderTrainer SenderModel = "Trainer"
	SenderAdmin   SenderModel = "Admin"
)

// Message is an immutable chat entry in a batch room.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	BatchID     string      `json:"batchId"`
	SenderID    string      `json:"senderId"`
	SenderModel SenderModel `json:"senderModel"`
	SenderName  string      `json:"senderName"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	FileURL     *string     `json:"fileUrl,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// SendMessageRequest is the send_message payload.
type SendMessageRequest struct {
	BatchID     string      `json:"batchId" validate:"required,max=128"`
	Content     string      `json:"content" validate:"required_if=Type text,max=10000"`
	SenderID    string      `json:"senderId" validate:"required,max=128"`
	SenderModel SenderModel `json:"senderModel" validate:"required,oneof=Student Trainer Admin"`
	SenderName  string      `json:"senderName" validate:"required,max=200"`
	Type        MessageType `json:"type" validate:"required,oneof=text image video audio file"`
	FileURL     string      `json:"fileUrl" validate:"required_unless=Type text,max=2048"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type MessagePage struct {
	Data       []*Message `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type MediaUpload struct {
	FileURL string      `json:"fileUrl"`
	Type    MessageType `json:"type"`
}
