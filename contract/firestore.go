package contract

import "time"

// Firestore documents. json tags mirror the firestore tags so the same
// types decode from any store.Document and encode in HTTP responses.

type Profile struct {
	ID              string   `firestore:"-" json:"id"`
	FirstName       string   `firestore:"firstName" json:"firstName"`
	LastName        string   `firestore:"lastName" json:"lastName"`
	Email           string   `firestore:"email" json:"email"`
	Role            string   `firestore:"role" json:"role"`
	Company         string   `firestore:"company,omitempty" json:"company,omitempty"`
	Phone           string   `firestore:"phone,omitempty" json:"phone,omitempty"`
	Location        string   `firestore:"location" json:"location"`
	PhotoURL        string   `firestore:"photoURL" json:"photoURL"`
	About           string   `firestore:"about" json:"about"`
	AboutHTML       string   `firestore:"-" json:"aboutHtml,omitempty"`
	Specialties     []string `firestore:"specialties" json:"specialties"`
	Experience      int      `firestore:"experience,omitempty" json:"experience,omitempty"`
	Certifications  []string `firestore:"certifications,omitempty" json:"certifications,omitempty"`
	Availability    string   `firestore:"availability,omitempty" json:"availability,omitempty"`
	Connections     []string `firestore:"connections" json:"connections"`
	PendingSent     []string `firestore:"pendingSent" json:"pendingSent"`
	PendingReceived []string `firestore:"pendingReceived" json:"pendingReceived"`
}

func (p Profile) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type LastMessage struct {
	Content   string    `firestore:"content" json:"content"`
	SenderID  string    `firestore:"senderId" json:"senderId"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

type Conversation struct {
	ID               string            `firestore:"-" json:"id"`
	Participants     []string          `firestore:"participants" json:"participants"`
	ParticipantKinds map[string]string `firestore:"participantKinds" json:"participantKinds,omitempty"`
	LastMessage      LastMessage       `firestore:"lastMessage" json:"lastMessage"`
	UnreadCount      map[string]int    `firestore:"unreadCount" json:"unreadCount"`
	CreatedAt        time.Time         `firestore:"createdAt" json:"createdAt"`
}

func (c Conversation) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// Counterpart returns the participant that is not uid.
func (c Conversation) Counterpart(uid string) (string, bool) {
	if !c.HasParticipant(uid) {
		return "", false
	}
	for _, p := range c.Participants {
		if p != uid {
			return p, true
		}
	}
	return "", false
}

type Message struct {
	ID        string    `firestore:"-" json:"id"`
	Content   string    `firestore:"content" json:"content"`
	SenderID  string    `firestore:"senderId" json:"senderId"`
	Timestamp time.Time `firestore:"timestamp" json:"timestamp"`
}

type Comment struct {
	ID        string    `firestore:"id" json:"id"`
	UserID    string    `firestore:"userId" json:"userId"`
	Content   string    `firestore:"content" json:"content"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}

type Post struct {
	ID        string    `firestore:"-" json:"id"`
	UserID    string    `firestore:"userId" json:"userId"`
	Content   string    `firestore:"content" json:"content"`
	Images    []string  `firestore:"images" json:"images"`
	Likes     []string  `firestore:"likes" json:"likes"`
	Comments  []Comment `firestore:"comments" json:"comments"`
	Type      string    `firestore:"type" json:"type"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}
