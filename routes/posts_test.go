package routes

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelhub/travelhub/models"
)

func TestCreatePostValidation(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	base := func() gin.H {
		return gin.H{"title": "Ramen Ya", "description": "good", "category": "restaurant"}
	}
	cases := []struct {
		name   string
		mutate func(gin.H)
		code   int
	}{
		{"empty title", func(b gin.H) { b["title"] = "  <b></b> " }, 40021},
		{"long title", func(b gin.H) { b["title"] = strings.Repeat("x", 121) }, 40022},
		{"no description", func(b gin.H) { b["description"] = "" }, 40023},
		{"bad category", func(b gin.H) { b["category"] = "museum" }, 40024},
		{"latitude", func(b gin.H) { b["latitude"] = 90.5 }, 40025},
		{"longitude", func(b gin.H) { b["longitude"] = -181 }, 40026},
		{"rating", func(b gin.H) { b["rating"] = 5.5 }, 40027},
		{"image", func(b gin.H) { b["image_url"] = "javascript:alert(1)" }, 40028},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := base()
			tc.mutate(body)
			env := decode(t, app.do(http.MethodPost, "/api/v1/posts", body, s.Token), http.StatusBadRequest, nil)
			assert.Equal(t, tc.code, env.Code)
		})
	}

	env := decode(t, app.do(http.MethodPost, "/api/v1/posts", base(), ""), http.StatusUnauthorized, nil)
	assert.Equal(t, 40101, env.Code)
}

func TestCreateAndGetPost(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	created := app.createPost(s.Token, "<i>Ramen</i> Ya", models.CategoryRestaurant)
	assert.Equal(t, "Ramen Ya", created.Title)
	assert.Equal(t, "<p>Great place</p>", created.Description)
	assert.Equal(t, "alice", created.Author.Username)
	require.NotNil(t, created.Author.Profile)
	assert.Equal(t, "alice", created.Author.Profile.DisplayName)

	var anon postView
	decode(t, app.do(http.MethodGet, "/api/v1/posts/"+itoa(created.ID), nil, ""), http.StatusOK, &anon)
	assert.Equal(t, created.ID, anon.ID)
	assert.Nil(t, anon.IsFavorited)
	require.NotNil(t, anon.Rating)
	assert.InDelta(t, 4.5, *anon.Rating, 0.0001)

	var mine postView
	decode(t, app.do(http.MethodGet, "/api/v1/posts/"+itoa(created.ID), nil, s.Token), http.StatusOK, &mine)
	require.NotNil(t, mine.IsFavorited)
	assert.False(t, *mine.IsFavorited)

	env := decode(t, app.do(http.MethodGet, "/api/v1/posts/999", nil, ""), http.StatusNotFound, nil)
	assert.Equal(t, 40401, env.Code)
}

func TestPostViewsAreCounted(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")
	post := app.createPost(s.Token, "Tower", models.CategoryAttraction)

	for i := 0; i < 3; i++ {
		decode(t, app.do(http.MethodGet, "/api/v1/posts/"+itoa(post.ID), nil, ""), http.StatusOK, nil)
	}
	// misses are not views
	app.do(http.MethodGet, "/api/v1/posts/4242", nil, "")

	var stats struct {
		Views     int64 `json:"views"`
		Favorites int64 `json:"favorites"`
		Messages  int64 `json:"messages"`
	}
	decode(t, app.do(http.MethodGet, "/api/v1/posts/"+itoa(post.ID)+"/stats", nil, ""), http.StatusOK, &stats)
	assert.EqualValues(t, 3, stats.Views)

	var stored models.Post
	require.NoError(t, app.db.First(&stored, post.ID).Error)
	assert.EqualValues(t, 3, stored.ViewCount)
}

func TestListPostsSearchFilterSort(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")
	app.createPost(s.Token, "Charlie Hotel", models.CategoryHotel)
	app.createPost(s.Token, "Alpha Ramen", models.CategoryRestaurant)
	app.createPost(s.Token, "Bravo Sushi", models.CategoryRestaurant)

	var all pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts", nil, ""), http.StatusOK, &all)
	require.Len(t, all.Items, 3)
	assert.Equal(t, "Bravo Sushi", all.Items[0].Title, "newest first by default")
	assert.EqualValues(t, 3, all.Pagination.Total)
	assert.Equal(t, 12, all.Pagination.PageSize)

	var byTitle pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?sort=title", nil, ""), http.StatusOK, &byTitle)
	require.Len(t, byTitle.Items, 3)
	assert.Equal(t, []string{"Alpha Ramen", "Bravo Sushi", "Charlie Hotel"},
		[]string{byTitle.Items[0].Title, byTitle.Items[1].Title, byTitle.Items[2].Title})

	var restaurants pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?category=restaurant&page_size=1&page=2", nil, ""), http.StatusOK, &restaurants)
	require.Len(t, restaurants.Items, 1)
	assert.EqualValues(t, 2, restaurants.Pagination.Total)
	assert.Equal(t, 2, restaurants.Pagination.TotalPages)
	assert.Equal(t, models.CategoryRestaurant, restaurants.Items[0].Category)

	var found pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?search=sushi", nil, ""), http.StatusOK, &found)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "Bravo Sushi", found.Items[0].Title)

	env := decode(t, app.do(http.MethodGet, "/api/v1/posts?sort=random", nil, ""), http.StatusBadRequest, nil)
	assert.Equal(t, 40010, env.Code)
	env = decode(t, app.do(http.MethodGet, "/api/v1/posts?category=museum", nil, ""), http.StatusBadRequest, nil)
	assert.Equal(t, 40011, env.Code)
}

func TestListPostsSearchMatchesLiterally(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")
	app.createPost(s.Token, "100% Vegan", models.CategoryRestaurant)
	app.createPost(s.Token, "100 Vegan Bowls", models.CategoryRestaurant)
	app.createPost(s.Token, "Snake_Bar", models.CategoryRestaurant)
	app.createPost(s.Token, "SnakeXBar", models.CategoryRestaurant)

	var percent pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?search=100%25", nil, ""), http.StatusOK, &percent)
	require.Len(t, percent.Items, 1)
	assert.Equal(t, "100% Vegan", percent.Items[0].Title)

	var underscore pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?search=e_B", nil, ""), http.StatusOK, &underscore)
	require.Len(t, underscore.Items, 1)
	assert.Equal(t, "Snake_Bar", underscore.Items[0].Title)
}

func TestListPostsClampsPageSize(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")
	app.createPost(s.Token, "Only Place", models.CategoryHotel)

	var page pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/posts?page_size=500", nil, ""), http.StatusOK, &page)
	assert.Equal(t, 100, page.Pagination.PageSize)
	assert.Len(t, page.Items, 1)

	decode(t, app.do(http.MethodGet, "/api/v1/posts?page_size=0", nil, ""), http.StatusOK, &page)
	assert.Equal(t, 12, page.Pagination.PageSize)
}

func TestUpdatePostPermissions(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	bob := app.register("bob")
	root := app.register("root")
	post := app.createPost(alice.Token, "Ramen", models.CategoryRestaurant)

	update := gin.H{"title": "Ramen Deluxe", "description": "better", "category": "restaurant"}
	env := decode(t, app.do(http.MethodPut, "/api/v1/posts/"+itoa(post.ID), update, bob.Token), http.StatusForbidden, nil)
	assert.Equal(t, 40301, env.Code)

	var updated postView
	decode(t, app.do(http.MethodPut, "/api/v1/posts/"+itoa(post.ID), update, alice.Token), http.StatusOK, &updated)
	assert.Equal(t, "Ramen Deluxe", updated.Title)
	assert.Nil(t, updated.Rating, "omitted rating is cleared")

	update["title"] = "Moderated"
	decode(t, app.do(http.MethodPut, "/api/v1/posts/"+itoa(post.ID), update, root.Token), http.StatusOK, &updated)
	assert.Equal(t, "Moderated", updated.Title)
	assert.Equal(t, alice.ID, updated.UserID)
}

func TestDeletePostRemovesFavoritesAndChat(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	bob := app.register("bob")
	post := app.createPost(alice.Token, "Ramen", models.CategoryRestaurant)
	room := "post:" + itoa(post.ID)

	decode(t, app.do(http.MethodPost, "/api/v1/posts/"+itoa(post.ID)+"/favorite", nil, bob.Token), http.StatusOK, nil)
	decode(t, app.do(http.MethodPost, "/api/v1/chats/"+room+"/messages", gin.H{"content": "hi"}, bob.Token), http.StatusCreated, nil)

	env := decode(t, app.do(http.MethodDelete, "/api/v1/posts/"+itoa(post.ID), nil, bob.Token), http.StatusForbidden, nil)
	assert.Equal(t, 40301, env.Code)

	decode(t, app.do(http.MethodDelete, "/api/v1/posts/"+itoa(post.ID), nil, alice.Token), http.StatusOK, nil)

	var favorites, chats, posts int64
	app.db.Model(&models.Favorite{}).Where("post_id = ?", post.ID).Count(&favorites)
	app.db.Model(&models.ChatMessage{}).Where("room = ?", room).Count(&chats)
	app.db.Model(&models.Post{}).Where("id = ?", post.ID).Count(&posts)
	assert.Zero(t, favorites)
	assert.Zero(t, chats)
	assert.Zero(t, posts)

	decode(t, app.do(http.MethodGet, "/api/v1/posts/"+itoa(post.ID), nil, ""), http.StatusNotFound, nil)
}

func TestUserPostLists(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	bob := app.register("bob")
	app.createPost(alice.Token, "A1", models.CategoryHotel)
	app.createPost(alice.Token, "A2", models.CategoryHotel)
	app.createPost(bob.Token, "B1", models.CategoryHotel)

	var mine pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/users/me/posts", nil, alice.Token), http.StatusOK, &mine)
	assert.Len(t, mine.Items, 2)

	var bobs pageView[postView]
	decode(t, app.do(http.MethodGet, "/api/v1/users/"+itoa(bob.ID)+"/posts", nil, ""), http.StatusOK, &bobs)
	require.Len(t, bobs.Items, 1)
	assert.Equal(t, "B1", bobs.Items[0].Title)
}

func TestPostImageUploadIsClaimedByPost(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	var obj struct {
		URL         string `json:"url"`
		Bucket      string `json:"bucket"`
		ContentType string `json:"content_type"`
	}
	decode(t, app.upload("/api/v1/posts/image", s.Token, pngHeader), http.StatusOK, &obj)
	assert.Equal(t, "post_image", obj.Bucket)
	assert.Equal(t, "image/png", obj.ContentType)
	require.True(t, strings.HasPrefix(obj.URL, "/storage/post_image/"), obj.URL)

	served := app.do(http.MethodGet, obj.URL, nil, "")
	assert.Equal(t, http.StatusOK, served.Code)

	var rec models.UploadedFile
	require.NoError(t, app.db.Where("url = ?", obj.URL).First(&rec).Error)
	assert.NotNil(t, rec.ExpireAt)

	w := app.do(http.MethodPost, "/api/v1/posts", gin.H{
		"title": "With photo", "description": "d", "category": "hotel", "image_url": obj.URL,
	}, s.Token)
	var post postView
	decode(t, w, http.StatusCreated, &post)
	assert.Equal(t, obj.URL, post.ImageURL)

	var claimed models.UploadedFile
	require.NoError(t, app.db.Where("url = ?", obj.URL).First(&claimed).Error)
	assert.Nil(t, claimed.ExpireAt)

	env := decode(t, app.upload("/api/v1/posts/image", s.Token, []byte("plain text, not an image")), http.StatusBadRequest, nil)
	assert.Equal(t, 40031, env.Code)
}
