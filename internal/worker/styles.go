package worker

// defaultStylesheet is the Sass injected as styles__sass when a template
// references {{{ styles }}} without supplying its own stylesheet.
const defaultStylesheet = `
$text: #333333;
$muted: #888888;
$accent: #1a73e8;

body {
  margin: 0;
  padding: 0;
  background: #f4f4f4;
  font-family: Helvetica, Arial, sans-serif;
  color: $text;
}

.container {
  max-width: 600px;
  margin: 0 auto;
  padding: 24px;
  background: #ffffff;
}

a {
  color: $accent;
  text-decoration: none;
}

.btn {
  display: inline-block;
  padding: 10px 24px;
  border-radius: 4px;
  background: $accent;
  color: #ffffff;
}

.footer {
  padding-top: 16px;
  font-size: 12px;
  color: $muted;
}
`
