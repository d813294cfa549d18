package story

import "fmt"

// Demo content shown when the story service cannot be reached, so a child is
// never left staring at a spinner.
const (
	demoOpening = "ADKエージェントに接続中です...\n\n（デモモード）\nわーい！%s、いいね！\n\nむかしむかし、深い森の奥に、ちっちゃなウサギさんが住んでいました。名前は「ふわふわ」。\n\nある日、ふわふわは森の奥から聞こえてくる、美しい歌声に気づきました。\n\nさて、ふわふわはどうするかな？"
	demoMiddle  = "（デモモード）\nふわふわは勇気を出して歌声の方へ向かいました。すると、美しい鳥さんに出会いました！\n\n鳥さんと友達になったふわふわ。さあ、次はどうする？"
	demoEnding  = "（デモモード）\n鳥さんと一緒に歌ったふわふわは、森のみんなと仲良しになりました。\n\nめでたし、めでたし。おしまい。"

	demoChoiceBrave = "「%s」を選びました！\n\n（デモモード）\nふわふわは勇気を出して歌声の方へ向かいました。すると、美しい鳥さんに出会いました！\n\n鳥さんと友達になったふわふわ。さあ、次はどうする？"
	demoChoiceStay  = "「%s」を選びました！\n\n（デモモード）\nふわふわはお気に入りの花畑で遊びました。すると、そこには他の動物の友達がいました！\n\nみんなでどんな遊びをする？"
)

var (
	demoOpeningChoices = []string{
		"歌声のする方へ、勇気を出して進んでみる！",
		"やっぱりちょっと怖いから、いつものお気に入りの場所で遊ぶ！",
	}
	demoBraveChoices = []string{"鳥さんと一緒に空を飛んでみる", "鳥さんの歌を一緒に歌ってみる"}
	demoStayChoices  = []string{"みんなでかくれんぼをする", "お花でかんむりを作る"}
)

// FallbackPage builds the demo page for pageIndex of a linear story.
func FallbackPage(topic string, pageIndex, maxPages int) PageState {
	page := PageState{
		PageIndex: pageIndex,
		MaxPages:  maxPages,
		Fallback:  true,
	}

	switch {
	case pageIndex >= maxPages:
		page.Text = demoEnding
		page.Choices = []string{}
		page.IsTerminal = true
	case pageIndex <= 1:
		page.Text = fmt.Sprintf(demoOpening, topic)
		page.Choices = []string{ChoiceContinue}
	default:
		page.Text = demoMiddle
		page.Choices = []string{ChoiceContinue}
	}
	return page
}

// FallbackOpening is the demo opening of the branching (legacy) story.
func FallbackOpening(topic string, maxPages int) PageState {
	return PageState{
		PageIndex: 1,
		MaxPages:  maxPages,
		Text:      fmt.Sprintf(demoOpening, topic),
		Choices:   append([]string(nil), demoOpeningChoices...),
		Fallback:  true,
	}
}

// FallbackChoice is the demo continuation after choice was picked at index.
func FallbackChoice(choice string, index, pageIndex, maxPages int) PageState {
	page := PageState{
		PageIndex: pageIndex,
		MaxPages:  maxPages,
		Fallback:  true,
	}
	if index == 0 {
		page.Text = fmt.Sprintf(demoChoiceBrave, choice)
		page.Choices = append([]string(nil), demoBraveChoices...)
	} else {
		page.Text = fmt.Sprintf(demoChoiceStay, choice)
		page.Choices = append([]string(nil), demoStayChoices...)
	}
	if pageIndex >= maxPages {
		page.Choices = []string{}
		page.IsTerminal = true
	}
	return page
}
