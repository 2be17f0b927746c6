package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

// Composer renders the hub's messages. SiteURL prefixes links.
type Composer struct {
	SiteURL string
}

var htmlTpl = template.Must(template.New("mail").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hi {{.Username}},</p>
<p>{{.Lead}}</p>
{{if .Reason}}<p><strong>Moderator note:</strong> {{.Reason}}</p>{{end}}
{{if .Link}}<p><a href="{{.Link}}">{{.LinkText}}</a></p>{{end}}
<p style="color:#888">You can turn these emails off in your profile settings.</p>
</body></html>`))

type view struct {
	Username string
	Lead     string
	Reason   string
	Link     string
	LinkText string
}

func (c Composer) render(to, subject string, v view) Message {
	var buf bytes.Buffer
	_ = htmlTpl.Execute(&buf, v)

	text := fmt.Sprintf("Hi %s,\n\n%s\n", v.Username, v.Lead)
	if v.Reason != "" {
		text += "\nModerator note: " + v.Reason + "\n"
	}
	if v.Link != "" {
		text += "\n" + v.Link + "\n"
	}
	return Message{To: to, Subject: subject, Text: text, HTML: buf.String()}
}

// ModApproved tells an author their mod is live.
func (c Composer) ModApproved(to, username, modTitle string, modID uint, reason string) Message {
	return c.render(to, fmt.Sprintf("Your mod %q was approved", modTitle), view{
		Username: username,
		Lead:     fmt.Sprintf("Good news! Your mod %q has been approved and is now published.", modTitle),
		Reason:   reason,
		Link:     fmt.Sprintf("%s/mods/%d", c.SiteURL, modID),
		LinkText: "View your mod",
	})
}

// ModRejected tells an author their submission was removed.
func (c Composer) ModRejected(to, username, modTitle string, reason string) Message {
	return c.render(to, fmt.Sprintf("Your mod %q was not approved", modTitle), view{
		Username: username,
		Lead:     fmt.Sprintf("Your mod %q was reviewed and not approved. The submission has been removed.", modTitle),
		Reason:   reason,
		Link:     c.SiteURL + "/guidelines",
		LinkText: "Read the submission guidelines",
	})
}

// AchievementUnlocked congratulates a user on an achievement.
func (c Composer) AchievementUnlocked(to, username, name string, points int) Message {
	return c.render(to, fmt.Sprintf("Achievement unlocked: %s", name), view{
		Username: username,
		Lead:     fmt.Sprintf("You unlocked %q and earned %d points.", name, points),
		Link:     c.SiteURL + "/me/achievements",
		LinkText: "See your achievements",
	})
}
