package models

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Profile{},
		&Post{},
		&Favorite{},
		&ChatMessage{},
		&News{},
		&HeroSlide{},
		&UploadedFile{},
		&PostView{},
	}
}
