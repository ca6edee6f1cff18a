package filter

/*
Env is what a message policy expression sees. Policies are stored in the configuration, so renaming a field here
breaks existing configurations.
*/

type User struct {
	Id      string
	Name    string
	IsAdmin bool
}

type Room struct {
	Code    string
	OwnerId string
}

type Attachment struct {
	Type      string
	Name      string
	Size      int64
	Mime      string
	Encrypted bool
}

type Env struct {
	User
	Room          Room
	Attachment    Attachment
	Text          string
	TextLength    int
	HasAttachment bool
	IsReply       bool
	IsForward     bool
	// Encrypted is true when Text is an encryption envelope; the policy only sees the envelope then.
	Encrypted bool

	Lower func(string) string
}
