package model

// Identity はリクエストの呼び出し元を解決した結果を表す。
// 認証済みユーザーか匿名ゲストのいずれかであり、永続化はされない。
// クォータやレート制限の状態を引くためのキーとしてのみ使用する。
type Identity struct {
	Authenticated bool
	UserID        string // Authenticated == true の場合のみ
	GuestID       string // Authenticated == false の場合のみ
}

// Key はクォータ状態を引くための識別キーを返す。
// 認証済みならユーザーID、匿名ならゲストIDを返す。どちらも空の場合は
// 空文字を返し、呼び出し側で安全側（枯渇扱い）に倒す。
func (i *Identity) Key() string {
	if i == nil {
		return ""
	}
	if i.Authenticated {
		return i.UserID
	}
	return i.GuestID
}

// AuthenticatedUser は認証済みIdentityを生成する。
func AuthenticatedUser(userID string) *Identity {
	return &Identity{Authenticated: true, UserID: userID}
}

// Guest は匿名ゲストのIdentityを生成する。
func Guest(guestID string) *Identity {
	return &Identity{Authenticated: false, GuestID: guestID}
}
