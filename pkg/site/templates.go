package site

import "html/template"

const pageStyle = `body{font-family:system-ui,sans-serif;max-width:960px;margin:0 auto;padding:1rem;background:#fafafa;color:#222}
a{color:#0366d6;text-decoration:none}a:hover{text-decoration:underline}
.grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(240px,1fr));gap:12px}
.grid img{width:100%;height:auto;border-radius:4px}
.caption{font-size:.85rem;color:#555}
header{border-bottom:1px solid #ddd;margin-bottom:1rem;padding-bottom:.5rem}
time{color:#777;font-size:.9rem}`

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Profile.Username}} archive</title>
<style>` + pageStyle + `</style>
</head>
<body>
<header>
<h1>{{.Profile.Username}}</h1>
<p><a href="{{.Profile.ProfileURL}}">original profile</a>
{{if not .Profile.LastBackupTS.IsZero}} · last synced {{.Profile.LastBackupTS.Format "2006-01-02"}}{{end}}</p>
</header>
{{if .Galleries}}
<h2>Galleries</h2>
<ul>
{{range .Galleries}}<li><a href="galleries/{{.Slug}}/">{{.Gallery.Name}}</a> ({{len .Photos}} photos)</li>
{{end}}</ul>
{{end}}
{{if .Posts}}
<h2>Journal</h2>
<ul>
{{range .Posts}}<li><a href="blog/{{.Slug}}/">{{.Title}}</a>{{if not .PublishedAt.IsZero}} <time>{{.PublishedAt.Format "2006-01-02"}}</time>{{end}}</li>
{{end}}</ul>
{{end}}
{{if .Loose}}
<h2>Photos</h2>
<div class="grid">
{{range .Loose}}<figure><img src="{{.Src}}" alt="{{.Photo.Caption}}" loading="lazy">{{if .Photo.Caption}}<figcaption class="caption">{{.Photo.Caption}}</figcaption>{{end}}</figure>
{{end}}</div>
{{end}}
</body>
</html>
`))

var galleryTemplate = template.Must(template.New("gallery").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Gallery.Name}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<header>
<h1>{{.Gallery.Name}}</h1>
{{if .Gallery.Description}}<p>{{.Gallery.Description}}</p>{{end}}
<p><a href="../../index.html">back to archive</a></p>
</header>
<div class="grid">
{{range .Photos}}<figure><img src="{{.Src}}" alt="{{.Photo.Caption}}" loading="lazy">{{if .Photo.Caption}}<figcaption class="caption">{{.Photo.Caption}}</figcaption>{{end}}</figure>
{{end}}</div>
</body>
</html>
`))

var postTemplate = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Post.Title}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<header>
<h1>{{.Post.Title}}</h1>
{{if not .Post.PublishedAt.IsZero}}<time datetime="{{.Post.PublishedAt.Format "2006-01-02T15:04:05Z07:00"}}">{{.Post.PublishedAt.Format "January 2, 2006"}}</time>{{end}}
<p><a href="../../index.html">back to archive</a></p>
</header>
<article>
{{.Body}}
</article>
</body>
</html>
`))
